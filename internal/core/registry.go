package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pipelinecore/internal/blob"
	"pipelinecore/pkg/domain"
)

// Config carries the collaborators injected into the registry at process
// start. Datastore is required by every factory; SCM, Executor, Artifacts and
// Password are required only by the factory types that use them. Metrics,
// when set, wraps the datastore with Prometheus instrumentation.
type Config struct {
	Datastore domain.Datastore
	SCM       domain.SCM
	Executor  domain.Executor
	Artifacts blob.Store
	Password  string
	Metrics   prometheus.Registerer
}

// Registry is the explicit dependency-injection container for entity
// factories. Each factory is constructed exactly once per registry lifetime;
// a missing required collaborator on the first access yields a
// ConfigurationError that is cached and returned on every later access. The
// first construction's collaborators are authoritative: the registry never
// reconstructs a factory.
type Registry struct {
	ds        domain.Datastore
	scm       domain.SCM
	executor  domain.Executor
	artifacts blob.Store
	password  string

	pipelines cell[*PipelineFactory]
	jobs      cell[*JobFactory]
	builds    cell[*BuildFactory]
	users     cell[*UserFactory]
	secrets   cell[*SecretFactory]
	tokens    cell[*TokenFactory]
	triggers  cell[*TriggerFactory]
	templates cell[*TemplateFactory]
}

// cell memoizes a one-time factory construction, error included.
type cell[T any] struct {
	once sync.Once
	v    T
	err  error
}

func (c *cell[T]) get(build func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.v, c.err = build()
	})
	return c.v, c.err
}

// NewRegistry builds the container. Collaborator validation is deferred to
// the individual factory accessors so each missing collaborator is reported
// against the factory that needs it.
func NewRegistry(cfg Config) (*Registry, error) {
	ds := cfg.Datastore
	if cfg.Metrics != nil && ds != nil {
		var err error
		ds, err = InstrumentDatastore(ds, cfg.Metrics)
		if err != nil {
			return nil, err
		}
	}
	return &Registry{
		ds:        ds,
		scm:       cfg.SCM,
		executor:  cfg.Executor,
		artifacts: cfg.Artifacts,
		password:  cfg.Password,
	}, nil
}

func (r *Registry) require(factoryName string, ok bool, missing string) error {
	if ok {
		return nil
	}
	return &domain.ConfigurationError{Factory: factoryName, Missing: missing}
}

// Pipelines returns the pipeline factory, constructing it on first access.
func (r *Registry) Pipelines() (*PipelineFactory, error) {
	return r.pipelines.get(func() (*PipelineFactory, error) {
		if err := r.require("pipeline", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		if err := r.require("pipeline", r.scm != nil, "scm provider"); err != nil {
			return nil, err
		}
		return newPipelineFactory(r), nil
	})
}

// Jobs returns the job factory.
func (r *Registry) Jobs() (*JobFactory, error) {
	return r.jobs.get(func() (*JobFactory, error) {
		if err := r.require("job", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		return newJobFactory(r), nil
	})
}

// Builds returns the build factory. Build removal signals the executor, so
// the factory requires one.
func (r *Registry) Builds() (*BuildFactory, error) {
	return r.builds.get(func() (*BuildFactory, error) {
		if err := r.require("build", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		if err := r.require("build", r.executor != nil, "executor"); err != nil {
			return nil, err
		}
		return newBuildFactory(r), nil
	})
}

// Users returns the user factory.
func (r *Registry) Users() (*UserFactory, error) {
	return r.users.get(func() (*UserFactory, error) {
		if err := r.require("user", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		if err := r.require("user", r.scm != nil, "scm provider"); err != nil {
			return nil, err
		}
		if err := r.require("user", r.password != "", "sealing password"); err != nil {
			return nil, err
		}
		return newUserFactory(r), nil
	})
}

// Secrets returns the secret factory.
func (r *Registry) Secrets() (*SecretFactory, error) {
	return r.secrets.get(func() (*SecretFactory, error) {
		if err := r.require("secret", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		if err := r.require("secret", r.password != "", "sealing password"); err != nil {
			return nil, err
		}
		return newSecretFactory(r), nil
	})
}

// Tokens returns the token factory.
func (r *Registry) Tokens() (*TokenFactory, error) {
	return r.tokens.get(func() (*TokenFactory, error) {
		if err := r.require("token", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		return newTokenFactory(r), nil
	})
}

// Triggers returns the trigger factory.
func (r *Registry) Triggers() (*TriggerFactory, error) {
	return r.triggers.get(func() (*TriggerFactory, error) {
		if err := r.require("trigger", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		return newTriggerFactory(r), nil
	})
}

// Templates returns the template factory.
func (r *Registry) Templates() (*TemplateFactory, error) {
	return r.templates.get(func() (*TemplateFactory, error) {
		if err := r.require("template", r.ds != nil, "datastore"); err != nil {
			return nil, err
		}
		return newTemplateFactory(r), nil
	})
}
