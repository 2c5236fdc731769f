package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig holds configuration for the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient answers exchanges with a single chat completion.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible agent client.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY cannot be empty for the openai backend")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}, nil
}

// Send submits the transcript as one user message.
func (c *OpenAIClient) Send(ctx context.Context, conversationID, userMessage, historyText string) (*Response, error) {
	r := NewRequest(conversationID, userMessage, historyText, c.model)
	req := openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: r.Input},
		},
		User: conversationID,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reqJSON, _ := json.Marshal(req)
		terr := &TransportError{Reason: err.Error(), RequestBody: string(reqJSON), Err: err}

		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			terr.Status = apiErr.HTTPStatusCode
			terr.Reason = statusReason(apiErr.HTTPStatusCode)
			terr.ResponseBody = apiErr.Message
		case errors.As(err, &reqErr):
			terr.Status = reqErr.HTTPStatusCode
			terr.Reason = statusReason(reqErr.HTTPStatusCode)
			if reqErr.Err != nil {
				terr.ResponseBody = reqErr.Err.Error()
			}
		}

		c.logger.Error("OpenAI completion failed",
			"conversation_id", conversationID,
			"status", terr.Status,
			"reason", terr.Reason,
			"request_body", terr.RequestBody,
			"response_body", terr.ResponseBody,
		)
		return nil, terr
	}

	return NewResponse(completionValue(resp)), nil
}

// completionValue reshapes a chat completion into the responses layout
// (output[].content[].text) so extraction treats every backend alike.
func completionValue(resp openai.ChatCompletionResponse) Value {
	output := make([]Value, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		output = append(output, Object(
			Member{Key: "role", Value: String(choice.Message.Role)},
			Member{Key: "finish_reason", Value: String(string(choice.FinishReason))},
			Member{Key: "content", Value: Array(Object(
				Member{Key: "type", Value: String("output_text")},
				Member{Key: "text", Value: String(choice.Message.Content)},
			))},
		))
	}
	return Object(
		Member{Key: "id", Value: String(resp.ID)},
		Member{Key: "model", Value: String(resp.Model)},
		Member{Key: "output", Value: Array(output...)},
		Member{Key: "usage", Value: Object(
			Member{Key: "prompt_tokens", Value: Number(json.Number(strconv.Itoa(resp.Usage.PromptTokens)))},
			Member{Key: "completion_tokens", Value: Number(json.Number(strconv.Itoa(resp.Usage.CompletionTokens)))},
		)},
	)
}
