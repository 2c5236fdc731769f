package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/pilotchat/internal/credential"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// DefaultGrpcMethod is the unary method invoked when none is configured.
const DefaultGrpcMethod = "/pilotchat.agent.v1.AgentService/Respond"

// GrpcClient sends exchanges to an agent exposed over gRPC. Requests and
// replies are google.protobuf.Struct messages carrying the same fields as the
// HTTP backend.
type GrpcClient struct {
	conn   *grpc.ClientConn
	cfg    GrpcClientConfig
	creds  credential.Provider
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	Method           string
	Scope            string
	Model            string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		Method:           DefaultGrpcMethod,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the agent and waits until the connection is ready.
// creds may be nil when the agent does not require a bearer token.
func NewGrpcClient(cfg GrpcClientConfig, creds credential.Provider, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Method == "" {
		cfg.Method = def.Method
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to gRPC agent", "address", cfg.Address, "method", cfg.Method)

	return &GrpcClient{conn: conn, cfg: cfg, creds: creds, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Send invokes the configured unary method for one exchange.
func (c *GrpcClient) Send(ctx context.Context, conversationID, userMessage, historyText string) (*Response, error) {
	r := NewRequest(conversationID, userMessage, historyText, c.cfg.Model)
	fields := map[string]any{
		"input":          r.Input,
		"conversationId": r.ConversationID,
		"stream":         r.Stream,
		"metadata":       map[string]any{"conversationId": conversationID},
	}
	if r.Model != "" {
		fields["model"] = r.Model
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	if c.creds != nil {
		token, err := c.creds.Token(ctx, c.cfg.Scope)
		if err != nil {
			return nil, fmt.Errorf("acquire agent token: %w", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, c.cfg.Method, req, reply); err != nil {
		st := status.Convert(err)
		reqBody := c.requestBody(req)
		c.logger.Error("gRPC agent call failed",
			"conversation_id", conversationID,
			"code", st.Code().String(),
			"message", st.Message(),
			"request_body", reqBody,
		)
		return nil, &TransportError{
			Reason:      st.Code().String() + ": " + st.Message(),
			RequestBody: reqBody,
			Err:         err,
		}
	}

	return NewResponse(valueFromStruct(reply)), nil
}

// valueFromStruct converts a protobuf Struct. Struct fields carry no order,
// so members are sorted by key.
func valueFromStruct(s *structpb.Struct) Value {
	fields := s.GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	members := make([]Member, 0, len(keys))
	for _, k := range keys {
		members = append(members, Member{Key: k, Value: valueFromProto(fields[k])})
	}
	return Object(members...)
}

func valueFromProto(v *structpb.Value) Value {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue)
	case *structpb.Value_NumberValue:
		return numberValue(k.NumberValue)
	case *structpb.Value_StringValue:
		return String(k.StringValue)
	case *structpb.Value_ListValue:
		items := make([]Value, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			items = append(items, valueFromProto(item))
		}
		return Array(items...)
	case *structpb.Value_StructValue:
		return valueFromStruct(k.StructValue)
	default:
		return Null()
	}
}

func numberValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Number(json.Number(strconv.FormatFloat(f, 'g', -1, 64)))
}

// requestBody renders req for diagnostics. Requests protojson rejects are
// rendered from their Go map form instead.
func (c *GrpcClient) requestBody(req *structpb.Struct) string {
	b, err := protojson.Marshal(req)
	if err != nil {
		c.logger.Debug("Failed to encode gRPC request for logging", "error", err)
		return fmt.Sprintf("%v", req.AsMap())
	}
	return string(b)
}
