package di

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/plan"
)

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithContext sets the context handed to providers
func WithContext(ctx context.Context) Option {
	return func(opts *options) {
		opts.ctx = ctx
	}
}

// WithPlan replaces the default plan
func WithPlan(p plan.Plan) Option {
	return func(opts *options) {
		opts.plan = p
	}
}

// WithLogger replaces the default console logger
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container. A provider whose result type is
// also built in replaces the built-in constructor.
//
// Example:
//
//	WithProviders(
//	    func() runner.Runner { return fake },
//	    func(client *sts.Client) *services.IdentityService { return services.NewIdentityService(client) },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	ctx       context.Context
	plan      plan.Plan
	logger    zerolog.Logger
	providers []any
}
