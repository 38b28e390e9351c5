package core

import (
	"context"

	"pipelinecore/pkg/domain"
)

// JobTriggers is one job's outgoing trigger fan-out: the destinations of
// every edge declared against the job's source reference.
type JobTriggers struct {
	JobName  string   `json:"jobName"`
	Triggers []string `json:"triggers"`
}

// TriggerGraphOptions tunes trigger graph resolution. By default only
// standing (non-PR) pipeline jobs are considered.
type TriggerGraphOptions struct {
	IncludePR       bool
	IncludeArchived bool
}

// PipelineTriggers computes, for every job of the requested type in a
// pipeline, the destinations triggered by that job. Edges are fetched in one
// batched lookup keyed by the full source-reference set and matched by exact
// string equality; stale edges referencing jobs no longer in the pipeline
// are simply not matched. Jobs without edges appear with an empty trigger
// list, preserving job enumeration order. An absent pipeline yields an
// empty result, not an error.
func (f *TriggerFactory) PipelineTriggers(ctx context.Context, pipelineID any, opts TriggerGraphOptions) ([]JobTriggers, error) {
	pipelines, err := f.reg.Pipelines()
	if err != nil {
		return nil, err
	}
	pipeline, err := pipelines.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return []JobTriggers{}, nil
	}

	jobs, err := pipeline.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	selected := make([]*Job, 0, len(jobs))
	refs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.IsPR() && !opts.IncludePR {
			continue
		}
		if job.Archived && !opts.IncludeArchived {
			continue
		}
		selected = append(selected, job)
		refs = append(refs, job.SourceRef())
	}
	if len(selected) == 0 {
		return []JobTriggers{}, nil
	}

	edges, err := listAllRecords(ctx, &f.factory, ListOptions{
		Params: domain.Row{"src": refs},
		Sort:   domain.SortAscending,
		SortBy: "dest",
	}, f.wrap)
	if err != nil {
		return nil, err
	}
	bySrc := make(map[string][]string, len(selected))
	for _, edge := range edges {
		bySrc[edge.Src] = append(bySrc[edge.Src], edge.Dest)
	}

	out := make([]JobTriggers, 0, len(selected))
	for _, job := range selected {
		dests := bySrc[job.SourceRef()]
		if dests == nil {
			dests = []string{}
		}
		out = append(out, JobTriggers{JobName: job.Name, Triggers: dests})
	}
	return out, nil
}
