package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"pipelinecore/internal/blob"
	"pipelinecore/internal/infra/persistence/memory"
	"pipelinecore/pkg/domain"
)

// fakeSCM satisfies the SCM contract for tests. It records the tokens it was
// handed so sealing tests can assert plaintext flow.
type fakeSCM struct {
	mu          sync.Mutex
	seenTokens  []string
	permissions domain.Permissions
	decorateErr error
}

func (f *fakeSCM) GetPermissions(_ context.Context, req domain.PermissionsRequest) (domain.Permissions, error) {
	f.mu.Lock()
	f.seenTokens = append(f.seenTokens, req.Token)
	f.mu.Unlock()
	return f.permissions, nil
}

func (f *fakeSCM) DecorateURL(_ context.Context, req domain.DecorateRequest) (domain.RepoInfo, error) {
	if f.decorateErr != nil {
		return domain.RepoInfo{}, f.decorateErr
	}
	name := req.SCMURI
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return domain.RepoInfo{Name: strings.TrimSuffix(name, ".git"), Branch: "main", URL: req.SCMURI}, nil
}

// recordingExecutor records stop signals in the order received.
type recordingExecutor struct {
	mu    sync.Mutex
	stops []string
	err   error
}

func (e *recordingExecutor) Stop(_ context.Context, buildID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.stops = append(e.stops, buildID)
	return nil
}

func (e *recordingExecutor) stopped() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stops...)
}

const testPassword = "unit-test-password"

type testEnv struct {
	reg       *Registry
	ds        *memory.Store
	scm       *fakeSCM
	executor  *recordingExecutor
	artifacts *blob.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ds:        memory.NewStore(),
		scm:       &fakeSCM{permissions: domain.Permissions{Pull: true}},
		executor:  &recordingExecutor{},
		artifacts: blob.NewMemory(),
	}
	reg, err := NewRegistry(Config{
		Datastore: env.ds,
		SCM:       env.scm,
		Executor:  env.executor,
		Artifacts: env.artifacts,
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	env.reg = reg
	return env
}

func (e *testEnv) pipelines(t *testing.T) *PipelineFactory {
	t.Helper()
	f, err := e.reg.Pipelines()
	if err != nil {
		t.Fatalf("pipelines factory: %v", err)
	}
	return f
}

func (e *testEnv) jobs(t *testing.T) *JobFactory {
	t.Helper()
	f, err := e.reg.Jobs()
	if err != nil {
		t.Fatalf("jobs factory: %v", err)
	}
	return f
}

func (e *testEnv) builds(t *testing.T) *BuildFactory {
	t.Helper()
	f, err := e.reg.Builds()
	if err != nil {
		t.Fatalf("builds factory: %v", err)
	}
	return f
}

func (e *testEnv) users(t *testing.T) *UserFactory {
	t.Helper()
	f, err := e.reg.Users()
	if err != nil {
		t.Fatalf("users factory: %v", err)
	}
	return f
}

func (e *testEnv) secrets(t *testing.T) *SecretFactory {
	t.Helper()
	f, err := e.reg.Secrets()
	if err != nil {
		t.Fatalf("secrets factory: %v", err)
	}
	return f
}

func (e *testEnv) tokens(t *testing.T) *TokenFactory {
	t.Helper()
	f, err := e.reg.Tokens()
	if err != nil {
		t.Fatalf("tokens factory: %v", err)
	}
	return f
}

func (e *testEnv) triggers(t *testing.T) *TriggerFactory {
	t.Helper()
	f, err := e.reg.Triggers()
	if err != nil {
		t.Fatalf("triggers factory: %v", err)
	}
	return f
}

func (e *testEnv) templates(t *testing.T) *TemplateFactory {
	t.Helper()
	f, err := e.reg.Templates()
	if err != nil {
		t.Fatalf("templates factory: %v", err)
	}
	return f
}

func (e *testEnv) createPipeline(t *testing.T, uri string) *Pipeline {
	t.Helper()
	p, err := e.pipelines(t).Create(context.Background(), PipelineSpec{
		SCMURI:     uri,
		SCMContext: "github:github.com",
	})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	return p
}

func (e *testEnv) createJob(t *testing.T, pipelineID, name string) *Job {
	t.Helper()
	j, err := e.jobs(t).Create(context.Background(), JobSpec{PipelineID: pipelineID, Name: name})
	if err != nil {
		t.Fatalf("create job %s: %v", name, err)
	}
	return j
}
