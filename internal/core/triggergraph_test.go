package core

import (
	"context"
	"fmt"
	"testing"
)

func TestSourceRefNormalizesNumericIdentity(t *testing.T) {
	if got := SourceRef("0042", "main"); got != "~pipe@42:main" {
		t.Fatalf("source ref = %q", got)
	}
	if got := SourceRef("abc", "PR-1:main"); got != "~pipe@abc:PR-1:main" {
		t.Fatalf("source ref = %q", got)
	}
}

func TestPipelineTriggers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPipeline(t, "git@github.com:acme/widget.git")
	main := env.createJob(t, p.ID, "main")
	env.createJob(t, p.ID, "deploy")

	triggers := env.triggers(t)
	for _, dest := range []string{"200", "300"} {
		if _, err := triggers.Create(ctx, TriggerSpec{Src: main.SourceRef(), Dest: dest}); err != nil {
			t.Fatalf("create trigger: %v", err)
		}
	}
	// A stale edge whose source job no longer exists in the pipeline.
	if _, err := triggers.Create(ctx, TriggerSpec{Src: SourceRef(p.ID, "removed"), Dest: "400"}); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	graph, err := triggers.PipelineTriggers(ctx, p.ID, TriggerGraphOptions{})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(graph) != 2 {
		t.Fatalf("graph jobs = %d, want 2", len(graph))
	}
	// Jobs appear in enumeration order (name ascending); jobs without edges
	// appear with an empty, non-nil trigger list.
	if graph[0].JobName != "deploy" {
		t.Fatalf("first job = %q", graph[0].JobName)
	}
	if graph[0].Triggers == nil || len(graph[0].Triggers) != 0 {
		t.Fatalf("deploy triggers = %#v, want empty list", graph[0].Triggers)
	}
	if graph[1].JobName != "main" {
		t.Fatalf("second job = %q", graph[1].JobName)
	}
	if len(graph[1].Triggers) != 2 || graph[1].Triggers[0] != "200" || graph[1].Triggers[1] != "300" {
		t.Fatalf("main triggers = %v", graph[1].Triggers)
	}
}

func TestPipelineTriggersJobFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPipeline(t, "git@github.com:acme/widget.git")
	env.createJob(t, p.ID, "main")
	env.createJob(t, p.ID, "PR-9:main")
	archived := env.createJob(t, p.ID, "old")
	archived.Archived = true
	if err := archived.Update(ctx); err != nil {
		t.Fatalf("archive job: %v", err)
	}

	triggers := env.triggers(t)

	graph, err := triggers.PipelineTriggers(ctx, p.ID, TriggerGraphOptions{})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(graph) != 1 || graph[0].JobName != "main" {
		t.Fatalf("default graph = %+v, want only the standing job", graph)
	}

	graph, err = triggers.PipelineTriggers(ctx, p.ID, TriggerGraphOptions{IncludePR: true, IncludeArchived: true})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(graph) != 3 {
		t.Fatalf("inclusive graph = %d jobs, want 3", len(graph))
	}
}

func TestPipelineTriggersAbsentPipeline(t *testing.T) {
	env := newTestEnv(t)
	graph, err := env.triggers(t).PipelineTriggers(context.Background(), "missing", TriggerGraphOptions{})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if graph == nil || len(graph) != 0 {
		t.Fatalf("graph = %#v, want empty result", graph)
	}
}

func TestPipelineTriggersBeyondOnePage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createPipeline(t, "git@github.com:acme/widget.git")
	main := env.createJob(t, p.ID, "main")

	// One job fanning out to more destinations than a single scan page
	// holds; jobs beyond the first page as well.
	triggers := env.triggers(t)
	edges := DefaultCount + 5
	for i := 0; i < edges; i++ {
		if _, err := triggers.Create(ctx, TriggerSpec{Src: main.SourceRef(), Dest: fmt.Sprintf("d%03d", i)}); err != nil {
			t.Fatalf("create trigger %d: %v", i, err)
		}
	}
	extraJobs := DefaultCount
	for i := 0; i < extraJobs; i++ {
		env.createJob(t, p.ID, fmt.Sprintf("job-%03d", i))
	}

	graph, err := triggers.PipelineTriggers(ctx, p.ID, TriggerGraphOptions{})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(graph) != extraJobs+1 {
		t.Fatalf("graph jobs = %d, want %d", len(graph), extraJobs+1)
	}
	var mainTriggers []string
	for _, jt := range graph {
		if jt.JobName == "main" {
			mainTriggers = jt.Triggers
		}
	}
	if len(mainTriggers) != edges {
		t.Fatalf("main triggers = %d, want %d", len(mainTriggers), edges)
	}
	// Destination ordering survives the multi-page collection.
	if mainTriggers[0] != "d000" || mainTriggers[edges-1] != fmt.Sprintf("d%03d", edges-1) {
		t.Fatalf("trigger bounds = [%s %s]", mainTriggers[0], mainTriggers[edges-1])
	}
}

func TestTriggerCreateDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	triggers := env.triggers(t)

	if _, err := triggers.Create(ctx, TriggerSpec{Src: "~pipe@1:main", Dest: "77"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Identity derives from (src, dest): the same edge cannot exist twice.
	if _, err := triggers.Create(ctx, TriggerSpec{Src: "~pipe@1:main", Dest: "77"}); err == nil {
		t.Fatal("expected duplicate edge to fail")
	}
}
