package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	methodExtract  = "/sahayak.language.v1.LanguageModel/ExtractEntities"
	methodGenerate = "/sahayak.language.v1.LanguageModel/GenerateResponse"
)

const (
	defaultSidecarAddr = "localhost:50051"
	sidecarConnectWait = 5 * time.Second
)

var (
	errSidecarShutdown = errors.New("sidecar connection shut down")
	errSidecarStuck    = errors.New("sidecar connection state did not change")
)

// GrpcClient talks to a language-model sidecar. Requests and responses are
// google.protobuf.Struct messages so the sidecar needs no generated stubs.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGrpcClient dials the sidecar at addr (localhost:50051 when empty) and
// blocks until the channel is ready, ctx is done, or the connect wait runs
// out.
func NewGrpcClient(ctx context.Context, addr string, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = defaultSidecarAddr
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial language model sidecar %s: %w", addr, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, sidecarConnectWait)
	defer cancel()
	if err := awaitReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("language model sidecar %s: %w", addr, err)
	}

	logger.Info("Language model sidecar ready", "address", addr)
	return &GrpcClient{conn: conn, addr: addr, logger: logger}, nil
}

// awaitReady drives the channel out of idle until it is ready.
func awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		st := conn.GetState()
		if st == connectivity.Ready {
			return nil
		}
		if st == connectivity.Shutdown {
			return errSidecarShutdown
		}
		if st == connectivity.Idle {
			conn.Connect()
		}
		if conn.WaitForStateChange(ctx, st) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w (%s)", errSidecarStuck, st)
	}
}

// Close releases the channel.
func (c *GrpcClient) Close() {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("Closing language model sidecar connection failed", "error", err)
	}
}

func (c *GrpcClient) ExtractEntities(ctx context.Context, text string, prior Prior) (Extraction, error) {
	history := make([]any, len(prior.History))
	for i, h := range prior.History {
		history[i] = h
	}
	req, err := structpb.NewStruct(map[string]any{
		"text":          text,
		"language":      prior.Language,
		"history":       history,
		"expect_yes_no": prior.ExpectYesNo,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("build extract request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodExtract, req, resp); err != nil {
		return Extraction{}, c.mapError("ExtractEntities", err)
	}

	m := resp.AsMap()
	ex := Extraction{Intent: IntentUnknown, Entities: map[string]any{}}
	if s, ok := m["intent"].(string); ok && Intent(s).Valid() {
		ex.Intent = Intent(s)
	}
	if ents, ok := m["entities"].(map[string]any); ok {
		for k, v := range ents {
			if v != nil {
				ex.Entities[k] = v
			}
		}
	}
	ex.Category, _ = m["category"].(string)
	ex.Action, _ = m["action"].(string)
	if n, ok := m["ordinal"].(float64); ok {
		ex.Ordinal = int(n)
	}
	return ex, nil
}

func (c *GrpcClient) GenerateResponse(ctx context.Context, tc TemplateContext, lang string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"key":      tc.Key,
		"text":     tc.Text,
		"language": lang,
	})
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodGenerate, req, resp); err != nil {
		return "", c.mapError("GenerateResponse", err)
	}
	text, _ := resp.AsMap()["text"].(string)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformed)
	}
	return text, nil
}

// mapError folds gRPC status codes onto the capability's error classes.
func (c *GrpcClient) mapError(method string, err error) error {
	c.logger.Warn("Language model sidecar call failed", "method", method, "address", c.addr, "error", err)
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("%s failed: %w", method, err)
	}
}
