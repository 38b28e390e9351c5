// Command storecheck exercises a datastore backend end to end: it opens the
// configured driver, runs a pipeline/job/trigger/secret round trip through
// the factory registry and reports what it found. Intended for verifying a
// deployment's storage configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"pipelinecore/internal/blob"
	"pipelinecore/internal/config"
	"pipelinecore/internal/core"
	"pipelinecore/pkg/domain"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("storecheck", flag.ContinueOnError)
	driver := fs.String("driver", "", "storage driver (memory|sqlite|postgres); overrides config")
	dbPath := fs.String("path", "", "sqlite file path")
	dsn := fs.String("dsn", "", "postgres DSN")
	keep := fs.Bool("keep", false, "leave the smoke records in place")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger := log.New(os.Stderr, "storecheck: ", log.LstdFlags)

	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger.Printf("load config: %v", err)
		return 1
	}
	if cfgPath != "" {
		logger.Printf("config %s", cfgPath)
	}
	opts := cfg.StorageOptions()
	if *driver != "" {
		opts.Driver = *driver
	}
	if *dbPath != "" {
		opts.Path = *dbPath
	}
	if *dsn != "" {
		opts.DSN = *dsn
	}

	ds, err := core.OpenDatastore(opts)
	if err != nil {
		logger.Printf("open datastore: %v", err)
		return 1
	}
	logger.Printf("driver %s", opts.Driver)

	if err := smoke(context.Background(), ds, *keep, logger); err != nil {
		logger.Printf("FAIL: %v", err)
		return 1
	}
	logger.Printf("OK")
	return 0
}

// staticSCM satisfies the SCM contract without network access.
type staticSCM struct{}

func (staticSCM) GetPermissions(_ context.Context, _ domain.PermissionsRequest) (domain.Permissions, error) {
	return domain.Permissions{Pull: true}, nil
}

func (staticSCM) DecorateURL(_ context.Context, req domain.DecorateRequest) (domain.RepoInfo, error) {
	name := path.Base(strings.TrimSuffix(req.SCMURI, ".git"))
	return domain.RepoInfo{Name: name, Branch: "main", URL: req.SCMURI}, nil
}

type noopExecutor struct{}

func (noopExecutor) Stop(_ context.Context, _ string) error { return nil }

func smoke(ctx context.Context, ds domain.Datastore, keep bool, logger *log.Logger) error {
	reg, err := core.NewRegistry(core.Config{
		Datastore: ds,
		SCM:       staticSCM{},
		Executor:  noopExecutor{},
		Artifacts: blob.NewMemory(),
		Password:  "storecheck",
	})
	if err != nil {
		return err
	}

	pipelines, err := reg.Pipelines()
	if err != nil {
		return err
	}
	pipeline, err := pipelines.Create(ctx, core.PipelineSpec{
		SCMURI:     "git@example.com:storecheck/smoke.git",
		SCMContext: "github:example.com",
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	logger.Printf("pipeline %s (%s)", pipeline.ID, pipeline.SCMRepo.Name)

	jobs, err := reg.Jobs()
	if err != nil {
		return err
	}
	job, err := jobs.Create(ctx, core.JobSpec{PipelineID: pipeline.ID, Name: "main"})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	triggers, err := reg.Triggers()
	if err != nil {
		return err
	}
	if _, err := triggers.Create(ctx, core.TriggerSpec{Src: job.SourceRef(), Dest: pipeline.ID}); err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	graph, err := triggers.PipelineTriggers(ctx, pipeline.ID, core.TriggerGraphOptions{})
	if err != nil {
		return fmt.Errorf("trigger graph: %w", err)
	}
	for _, jt := range graph {
		logger.Printf("job %s triggers %v", jt.JobName, jt.Triggers)
	}

	secrets, err := reg.Secrets()
	if err != nil {
		return err
	}
	secret, err := secrets.Create(ctx, core.SecretSpec{PipelineID: pipeline.ID, Name: "SMOKE", Value: "s3cret"})
	if err != nil {
		return fmt.Errorf("create secret: %w", err)
	}
	got, err := secrets.Get(ctx, secret.ID)
	if err != nil {
		return fmt.Errorf("get secret: %w", err)
	}
	if got == nil || got.Value != "s3cret" {
		return fmt.Errorf("secret round trip mismatch")
	}

	if keep {
		return nil
	}
	// Pipeline removal cascades jobs, builds, secrets and trigger edges.
	if err := pipeline.Remove(ctx); err != nil {
		return fmt.Errorf("remove pipeline: %w", err)
	}
	left, err := pipelines.Get(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	if left != nil {
		return fmt.Errorf("pipeline %s still present after removal", pipeline.ID)
	}
	return nil
}
