// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/savaki/ec2-bootstrap/internal/plan"
	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
// This is a convenience function for retrieving a dependency from the container
// when you're certain it exists. If the dependency cannot be resolved, it will panic.
//
// Example:
//
//	db := MustGet[*Database](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// New creates a new dependency injection container for the given environment.
// The environment string is automatically registered as a string dependency
// that can be injected as a regular string parameter. An empty environment
// selects environment variables over Parameter Store for settings. The
// context, plan and logger come from options and default to
// context.Background(), plan.Default() and ProvideLogger(). A constructor
// passed via WithProviders replaces the built-in constructor of the same type.
//
// Example:
//
//	container, err := New("prd",
//	    WithPlan(p),
//	    WithProviders(func() runner.Runner { return fake }),
//	)
func New(env string, opts ...Option) (Container, error) {
	// Build options
	o := options{
		ctx:    context.Background(),
		plan:   plan.Default(),
		logger: ProvideLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Create dig container
	container := dig.New()
	if err := container.Provide(func() string { return env }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() context.Context { return o.ctx }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() plan.Plan { return o.plan }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() zerolog.Logger { return o.logger }); err != nil {
		return nil, err
	}

	// Providers passed via WithProviders replace core providers of the same type
	replaced := map[reflect.Type]bool{}
	for _, provider := range o.providers {
		for _, t := range outputTypes(provider) {
			replaced[t] = true
		}
	}

	// Register all core constructors
	for _, provider := range core {
		if overridden(provider, replaced) {
			continue
		}
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	// Register all provided constructors
	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideS3Client,
	ProvideSecretsManagerClient,
	ProvideSTSClient,
	ProvideSecretsManagerService,
	ProvidePackageDownloader,
	ProvideIdentityService,
	ProvideHTTPClient,
	ProvideHistoryFactory,
	ProvideMetadataClient,
	ProvideMetadataResolver,
	ProvideRunner,
	ProvidePolicyValidator,
	ProvideOrchestrator,
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// outputTypes lists the non-error results of a constructor
func outputTypes(constructor any) []reflect.Type {
	t := reflect.TypeOf(constructor)
	if t == nil || t.Kind() != reflect.Func {
		return nil
	}

	var types []reflect.Type
	for i := 0; i < t.NumOut(); i++ {
		if out := t.Out(i); out != errorType {
			types = append(types, out)
		}
	}
	return types
}

func overridden(constructor any, replaced map[reflect.Type]bool) bool {
	for _, t := range outputTypes(constructor) {
		if replaced[t] {
			return true
		}
	}
	return false
}
