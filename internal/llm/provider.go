package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	GRPCAddr     string
	Timeout      time.Duration
	// Categories maps scheme category to selecting keywords.
	Categories map[string][]string
	Logger     *slog.Logger
}

// New builds the configured backend wrapped with the call timeout. The
// returned close function releases backend resources and is never nil.
func New(ctx context.Context, opts Options) (Capability, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}

	var (
		c       Capability
		closeFn = noop
	)
	switch opts.Provider {
	case "", ProviderRules:
		c = NewRules(opts.Categories)
	case ProviderGemini:
		names := make([]string, 0, len(opts.Categories))
		for n := range opts.Categories {
			names = append(names, n)
		}
		sort.Strings(names)
		g, err := NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiModel, names, logger)
		if err != nil {
			return nil, noop, err
		}
		c = g
	case ProviderGRPC:
		g, err := NewGrpcClient(ctx, opts.GRPCAddr, logger)
		if err != nil {
			return nil, noop, err
		}
		c, closeFn = g, g.Close
	default:
		return nil, noop, fmt.Errorf("unknown language model provider %q", opts.Provider)
	}

	logger.Info("Language model configured", "provider", opts.Provider, "timeout", opts.Timeout)
	return WithTimeout(c, opts.Timeout), closeFn, nil
}
