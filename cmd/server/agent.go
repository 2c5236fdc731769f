package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/pilotchat/internal/agent"
	"github.com/ashureev/pilotchat/internal/config"
	"github.com/ashureev/pilotchat/internal/credential"
)

// newAgentClient builds the configured agent backend. The returned func
// releases its resources.
func newAgentClient(cfg *config.Config, logger *slog.Logger) (agent.Client, func(), error) {
	noop := func() {}

	switch cfg.Agent.Backend {
	case config.BackendHTTP:
		creds, err := newCredentials(cfg.Agent)
		if err != nil {
			return nil, noop, err
		}
		client, err := agent.NewHTTPClient(agent.HTTPClientConfig{
			Endpoint: cfg.Agent.Endpoint,
			Scope:    cfg.Agent.Scope,
			Model:    cfg.Agent.Model,
			Timeout:  cfg.Agent.Timeout,
		}, creds, nil, logger)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("Using responses endpoint agent", "endpoint", cfg.Agent.Endpoint)
		return client, noop, nil

	case config.BackendGRPC:
		var creds credential.Provider
		if cfg.Agent.StaticToken != "" || cfg.Agent.TokenURL != "" {
			c, err := newCredentials(cfg.Agent)
			if err != nil {
				return nil, noop, err
			}
			creds = c
		}
		client, err := agent.NewGrpcClient(agent.GrpcClientConfig{
			Address:        cfg.Agent.GrpcAddr,
			Method:         cfg.Agent.GrpcMethod,
			Scope:          cfg.Agent.Scope,
			Model:          cfg.Agent.Model,
			RequestTimeout: cfg.Agent.Timeout,
		}, creds, logger)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("Using gRPC agent", "address", cfg.Agent.GrpcAddr)
		return client, client.Close, nil

	case config.BackendOpenAI:
		client, err := agent.NewOpenAIClient(agent.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("Using OpenAI-compatible agent", "base_url", cfg.OpenAI.BaseURL)
		return client, noop, nil

	case config.BackendStub:
		slog.Warn("Using local stub agent, answers are canned")
		return agent.Stub{}, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
	}
}

func newCredentials(cfg config.AgentConfig) (credential.Provider, error) {
	if cfg.StaticToken != "" {
		return credential.Static(cfg.StaticToken), nil
	}
	return credential.NewClientCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret)
}
