package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
	"github.com/joseph-ayodele/scan2csv/internal/llm/openai"
	"github.com/joseph-ayodele/scan2csv/internal/llm/vertex"
)

// Registry builds one retrying Completer per backend name and shares it
// between stages that use the same backend.
type Registry struct {
	mu      sync.Mutex
	cfg     *common.Config
	logger  *slog.Logger
	built   map[string]llm.Completer
	closers []func() error
}

func NewRegistry(cfg *common.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cfg: cfg, logger: logger, built: map[string]llm.Completer{}}
}

// Get returns the Completer for backend, creating it on first use.
func (r *Registry) Get(ctx context.Context, backend string) (llm.Completer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.built[backend]; ok {
		return c, nil
	}
	raw, err := r.build(ctx, backend)
	if err != nil {
		return nil, err
	}
	c := llm.WithRetry(raw, llm.PolicyFromConfig(r.cfg.API), r.logger.With("backend", backend))
	r.built[backend] = c
	return c, nil
}

func (r *Registry) build(ctx context.Context, backend string) (llm.Completer, error) {
	switch backend {
	case common.BackendAzure:
		return openai.NewAzure(r.cfg.Azure, r.cfg.API, r.logger)
	case common.BackendOpenAI:
		return openai.NewOpenAI(r.cfg.OpenAI, r.cfg.API, r.logger), nil
	case common.BackendHyperbolic:
		return openai.NewHyperbolic(r.cfg.Hyperbolic, r.cfg.API, r.logger), nil
	case common.BackendVertex:
		c, err := vertex.NewClient(ctx, r.cfg.Vertex, r.cfg.API, r.logger)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, c.Close)
		return c, nil
	}
	return nil, fmt.Errorf("backend %q has no remote model: %w", backend, common.ErrInvalidInput)
}

// Close releases clients that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
