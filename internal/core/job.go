package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pipelinecore/pkg/domain"
)

// JobFactory orchestrates job persistence.
type JobFactory struct {
	factory
	reg *Registry
}

func newJobFactory(r *Registry) *JobFactory {
	return &JobFactory{
		factory: factory{
			name:  "job",
			table: domain.TableJobs,
			keys:  []string{"pipelineId", "name"},
			ds:    r.ds,
		},
		reg: r,
	}
}

// Job wraps a persisted job row.
type Job struct {
	domain.Job

	f        *JobFactory
	pipeline relation[*Pipeline]
	secrets  relation[[]*Secret]
}

// JobSpec carries caller-supplied fields for job creation.
type JobSpec struct {
	PipelineID string
	Name       string
	State      domain.JobState
}

func (f *JobFactory) wrap(row domain.Row) *Job {
	j := &Job{f: f}
	j.ID = rowString(row, "id")
	j.PipelineID = rowString(row, "pipelineId")
	j.Name = rowString(row, "name")
	j.State = domain.JobState(rowString(row, "state"))
	j.Archived = rowBool(row, "archived")
	return j
}

// Create derives the job identity from (pipelineId, name) and saves a single
// row. State defaults to enabled.
func (f *JobFactory) Create(ctx context.Context, spec JobSpec) (*Job, error) {
	state := spec.State
	if state == "" {
		state = domain.JobEnabled
	}
	data := domain.Row{
		"pipelineId": normalizeID(spec.PipelineID),
		"name":       spec.Name,
		"state":      string(state),
		"archived":   false,
	}
	id, err := f.deriveID(data)
	if err != nil {
		return nil, err
	}
	row, err := f.save(ctx, id, data)
	if err != nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// Get resolves a job by identity; missing jobs are (nil, nil).
func (f *JobFactory) Get(ctx context.Context, id any) (*Job, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// GetBy resolves a job by partial fields, e.g. pipelineId and name.
func (f *JobFactory) GetBy(ctx context.Context, params domain.Row) (*Job, error) {
	row, err := f.get(ctx, "", params)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans jobs.
func (f *JobFactory) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// ListWithCount is List with the total match count before pagination.
func (f *JobFactory) ListWithCount(ctx context.Context, opts ListOptions) ([]*Job, int, error) {
	opts.GetCount = true
	return listRecords(ctx, &f.factory, opts, f.wrap)
}

// IsPR reports whether the job is a pull-request job by naming convention.
func (j *Job) IsPR() bool { return strings.HasPrefix(j.Name, domain.PRJobPrefix) }

// SourceRef is the job's fully-qualified trigger source reference.
func (j *Job) SourceRef() string { return SourceRef(j.PipelineID, j.Name) }

// Update persists the job's mutable fields.
func (j *Job) Update(ctx context.Context) error {
	_, err := j.f.update(ctx, j.ID, domain.Row{
		"state":    string(j.State),
		"archived": j.Archived,
	})
	return err
}

// Pipeline lazily resolves the owning pipeline. A missing pipeline resolves
// to nil, not an error; callers that cannot tolerate absence check it.
func (j *Job) Pipeline(ctx context.Context) (*Pipeline, error) {
	return j.pipeline.resolve(func() (*Pipeline, error) {
		pipelines, err := j.f.reg.Pipelines()
		if err != nil {
			return nil, err
		}
		return pipelines.Get(ctx, j.PipelineID)
	})
}

// Secrets resolves the secrets usable by this job: the owning pipeline's
// secrets, restricted to PR-allowed ones when the job is a PR job. A job
// whose pipeline no longer exists cannot have usable secrets, so absence is
// an error here.
func (j *Job) Secrets(ctx context.Context) ([]*Secret, error) {
	return j.secrets.resolve(func() ([]*Secret, error) {
		pipeline, err := j.Pipeline(ctx)
		if err != nil {
			return nil, err
		}
		if pipeline == nil {
			return nil, fmt.Errorf("pipeline %s not found for job %s", j.PipelineID, j.Name)
		}
		all, err := pipeline.Secrets(ctx)
		if err != nil {
			return nil, err
		}
		if !j.IsPR() {
			return all, nil
		}
		usable := make([]*Secret, 0, len(all))
		for _, s := range all {
			if s.AllowInPR {
				usable = append(usable, s)
			}
		}
		return usable, nil
	})
}

// Builds lists one page of the job's builds, newest first by default.
func (j *Job) Builds(ctx context.Context, opts ListOptions) ([]*Build, error) {
	builds, err := j.f.reg.Builds()
	if err != nil {
		return nil, err
	}
	if opts.Params == nil {
		opts.Params = domain.Row{}
	}
	opts.Params["jobId"] = j.ID
	if opts.SortBy == "" {
		opts.SortBy = "number"
	}
	return builds.List(ctx, opts)
}

// allBuilds collects every build of the job, oldest first.
func (j *Job) allBuilds(ctx context.Context) ([]*Build, error) {
	builds, err := j.f.reg.Builds()
	if err != nil {
		return nil, err
	}
	return listAllRecords(ctx, &builds.factory, ListOptions{
		Params: domain.Row{"jobId": j.ID},
		Sort:   domain.SortAscending,
		SortBy: "number",
	}, builds.wrap)
}

// JobMetrics aggregates build outcomes for a job.
type JobMetrics struct {
	TotalBuilds  int                        `json:"totalBuilds"`
	ByStatus     map[domain.BuildStatus]int `json:"byStatus"`
	MeanDuration time.Duration              `json:"meanDuration"`
}

// Metrics aggregates the job's builds across all pages.
func (j *Job) Metrics(ctx context.Context) (JobMetrics, error) {
	builds, err := j.allBuilds(ctx)
	if err != nil {
		return JobMetrics{}, err
	}
	m := JobMetrics{
		TotalBuilds: len(builds),
		ByStatus:    make(map[domain.BuildStatus]int),
	}
	var total time.Duration
	var finished int
	for _, b := range builds {
		m.ByStatus[b.Status]++
		if !b.StartTime.IsZero() && !b.EndTime.IsZero() {
			total += b.EndTime.Sub(b.StartTime)
			finished++
		}
	}
	if finished > 0 {
		m.MeanDuration = total / time.Duration(finished)
	}
	return m, nil
}

// Remove deletes the job after its children. Builds are removed one at a
// time: each gets a stop signal to the executor, then its row (and artifacts)
// are removed; the job row goes only after every build is confirmed gone.
// Trigger edges sourced from this job are removed with the job.
func (j *Job) Remove(ctx context.Context) error {
	builds, err := j.f.reg.Builds()
	if err != nil {
		return err
	}
	all, err := j.allBuilds(ctx)
	if err != nil {
		return err
	}
	for _, b := range all {
		if err := builds.executor.Stop(ctx, b.ID); err != nil {
			return fmt.Errorf("stop build %s: %w", b.ID, err)
		}
		if err := b.Remove(ctx); err != nil {
			return err
		}
	}
	if err := j.removeTriggerEdges(ctx); err != nil {
		return err
	}
	return j.f.remove(ctx, j.ID)
}

func (j *Job) removeTriggerEdges(ctx context.Context) error {
	triggers, err := j.f.reg.Triggers()
	if err != nil {
		return err
	}
	rows, err := triggers.listAllRaw(ctx, ListOptions{Params: domain.Row{"src": j.SourceRef()}})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := triggers.remove(ctx, rowString(row, "id")); err != nil {
			return err
		}
	}
	return nil
}
