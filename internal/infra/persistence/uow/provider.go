package uow

import (
	"context"
	"log/slog"

	"shopdesk/config"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/postgres"

	"go.uber.org/fx"
)

// ProviderParams defines the dependencies of the unit of work provider
type ProviderParams struct {
	fx.In

	Factory  *postgres.SessionFactory
	Registry *Registry
	Config   *config.Config
	Logger   *slog.Logger
	Recorder Recorder `optional:"true"`
}

// Provider hands out units of work that share one factory, registry and set
// of options.
type Provider struct {
	factory  SessionFactory
	registry *Registry
	opts     Options
}

// NewProvider is the constructor for Provider.
// This function will be used as an Fx provider.
func NewProvider(params ProviderParams) *Provider {
	opts := Options{
		RetryBackoff: DefaultRetryBackoff,
		Logger:       params.Logger,
		Recorder:     params.Recorder,
	}
	if params.Config != nil && params.Config.Session != nil {
		opts.GuardTimeout = params.Config.Session.GuardTimeout
		opts.RetryBackoff = params.Config.Session.RetryBackoff
	}

	return NewProviderWith(params.Factory, params.Registry, opts)
}

// NewProviderWith builds a Provider outside of fx.
func NewProviderWith(factory SessionFactory, registry *Registry, opts Options) *Provider {
	opts = opts.withDefaults()
	opts.Logger.Debug("Unit of work provider ready",
		slog.Int("entities", registry.Len()),
		slog.Duration("guard_timeout", opts.GuardTimeout),
		slog.Duration("retry_backoff", opts.RetryBackoff),
	)

	return &Provider{
		factory:  factory,
		registry: registry,
		opts:     opts,
	}
}

// New returns a fresh unit of work. The caller owns it and must Dispose it.
func (p *Provider) New() *UnitOfWork {
	return New(p.factory, p.registry, p.opts)
}

// Execute runs fn with a unit of work that is disposed when fn returns.
// Changes not saved by fn are discarded.
func (p *Provider) Execute(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) error {
	u := p.New()
	defer u.Dispose()

	if err := fn(ctx, u); err != nil {
		return err
	}

	if pending := u.Pending(); len(pending) > 0 {
		p.opts.Logger.WarnContext(ctx, "Unit of work finished with unsaved changes",
			slog.Int("pending", len(pending)),
			slog.Any("tables", pendingTables(pending)),
		)
	}

	return nil
}

// Ping round-trips a session through the factory.
func (p *Provider) Ping(ctx context.Context) error {
	s, err := p.factory.Create(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}

	return s.Dispose()
}

func pendingTables(entries []postgres.Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var tables []string
	for _, e := range entries {
		if _, ok := seen[e.Table]; ok {
			continue
		}
		seen[e.Table] = struct{}{}
		tables = append(tables, e.Table)
	}

	return tables
}
