package core

import (
	"context"
	"strings"
	"testing"

	"pipelinecore/internal/blob"
	"pipelinecore/pkg/domain"
)

func TestBuildCreateAssignedIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	builds := env.builds(t)

	a, err := builds.Create(ctx, BuildSpec{JobID: "7", Number: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := builds.Create(ctx, BuildSpec{JobID: "7", Number: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Builds have no natural key: identical specs coexist as distinct rows.
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}
	if a.Status != domain.BuildQueued {
		t.Fatalf("status = %q, want queued", a.Status)
	}
	if a.CreateTime.IsZero() {
		t.Fatal("createTime must be stamped")
	}
}

func TestBuildUpdateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b, err := env.builds(t).Create(ctx, BuildSpec{JobID: "7", Number: 1, SHA: "abc123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b.Status = domain.BuildRunning
	b.StartTime = b.CreateTime.Add(1)
	if err := b.Update(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := env.builds(t).Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.BuildRunning {
		t.Fatalf("status = %q", got.Status)
	}
	if got.StartTime.IsZero() {
		t.Fatal("startTime must persist")
	}
	if got.SHA != "abc123" {
		t.Fatalf("sha = %q", got.SHA)
	}
}

func TestBuildRemovePurgesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b, err := env.builds(t).Create(ctx, BuildSpec{JobID: "7", Number: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, name := range []string{"log.txt", "out/report.xml"} {
		key := b.ArtifactPrefix() + name
		if _, err := env.artifacts.Put(ctx, key, strings.NewReader("data"), blob.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	// An artifact of another build must survive the purge.
	if _, err := env.artifacts.Put(ctx, "builds/other/log.txt", strings.NewReader("keep"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := b.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}

	mine, err := env.artifacts.List(ctx, b.ArtifactPrefix())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("artifacts not purged: %+v", mine)
	}
	others, err := env.artifacts.List(ctx, "builds/other/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(others) != 1 {
		t.Fatal("unrelated artifacts must survive")
	}
}

func TestBuildRelations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPipeline(t, "git@github.com:acme/widget.git")
	j := env.createJob(t, p.ID, "main")
	b, err := env.builds(t).Create(ctx, BuildSpec{JobID: j.ID, Number: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	job, err := b.Job(ctx)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job == nil || job.ID != j.ID {
		t.Fatalf("job = %+v", job)
	}
	owner, err := b.Pipeline(ctx)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if owner == nil || owner.ID != p.ID {
		t.Fatalf("pipeline = %+v", owner)
	}
}
