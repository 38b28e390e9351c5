package core

import (
	"context"
	"fmt"
	"time"

	"pipelinecore/internal/blob"
	"pipelinecore/pkg/domain"
)

// BuildFactory orchestrates build persistence. Build identities are assigned
// by the datastore rather than derived: builds have no natural key.
type BuildFactory struct {
	factory
	reg       *Registry
	executor  domain.Executor
	artifacts blob.Store
}

func newBuildFactory(r *Registry) *BuildFactory {
	return &BuildFactory{
		factory: factory{
			name:  "build",
			table: domain.TableBuilds,
			ds:    r.ds,
		},
		reg:       r,
		executor:  r.executor,
		artifacts: r.artifacts,
	}
}

// Build wraps a persisted build row.
type Build struct {
	domain.Build

	f   *BuildFactory
	job relation[*Job]
}

// BuildSpec carries caller-supplied fields for build creation.
type BuildSpec struct {
	JobID     string
	Number    int
	Container string
	SHA       string
	Meta      map[string]any
}

func (f *BuildFactory) wrap(row domain.Row) *Build {
	b := &Build{f: f}
	b.ID = rowString(row, "id")
	b.JobID = rowString(row, "jobId")
	b.Number = rowInt(row, "number")
	b.Container = rowString(row, "container")
	b.SHA = rowString(row, "sha")
	b.Status = domain.BuildStatus(rowString(row, "status"))
	b.CreateTime = rowTime(row, "createTime")
	b.StartTime = rowTime(row, "startTime")
	b.EndTime = rowTime(row, "endTime")
	b.Meta = rowMap(row, "meta")
	return b
}

// Create saves a new queued build. The datastore assigns the identity.
func (f *BuildFactory) Create(ctx context.Context, spec BuildSpec) (*Build, error) {
	data := domain.Row{
		"jobId":      normalizeID(spec.JobID),
		"number":     spec.Number,
		"container":  spec.Container,
		"sha":        spec.SHA,
		"status":     string(domain.BuildQueued),
		"createTime": time.Now().UTC(),
	}
	if spec.Meta != nil {
		data["meta"] = spec.Meta
	}
	row, err := f.save(ctx, "", data)
	if err != nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// Get resolves a build by identity; missing builds are (nil, nil).
func (f *BuildFactory) Get(ctx context.Context, id any) (*Build, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans builds.
func (f *BuildFactory) List(ctx context.Context, opts ListOptions) ([]*Build, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// ListWithCount is List with the total match count before pagination.
func (f *BuildFactory) ListWithCount(ctx context.Context, opts ListOptions) ([]*Build, int, error) {
	opts.GetCount = true
	return listRecords(ctx, &f.factory, opts, f.wrap)
}

// Update persists the build's mutable execution fields.
func (b *Build) Update(ctx context.Context) error {
	data := domain.Row{
		"status": string(b.Status),
	}
	if !b.StartTime.IsZero() {
		data["startTime"] = b.StartTime
	}
	if !b.EndTime.IsZero() {
		data["endTime"] = b.EndTime
	}
	if b.Meta != nil {
		data["meta"] = b.Meta
	}
	_, err := b.f.update(ctx, b.ID, data)
	return err
}

// ArtifactPrefix is the artifact-store key prefix owned by this build.
func (b *Build) ArtifactPrefix() string { return "builds/" + b.ID + "/" }

// Remove deletes the build row, purging its artifacts first when an artifact
// store is configured.
func (b *Build) Remove(ctx context.Context) error {
	if b.f.artifacts != nil {
		if err := purgeArtifacts(ctx, b.f.artifacts, b.ArtifactPrefix()); err != nil {
			return fmt.Errorf("purge artifacts for build %s: %w", b.ID, err)
		}
	}
	return b.f.remove(ctx, b.ID)
}

func purgeArtifacts(ctx context.Context, store blob.Store, prefix string) error {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if _, err := store.Delete(ctx, info.Key); err != nil {
			return err
		}
	}
	return nil
}

// Job lazily resolves the owning job; nil when it no longer exists.
func (b *Build) Job(ctx context.Context) (*Job, error) {
	return b.job.resolve(func() (*Job, error) {
		jobs, err := b.f.reg.Jobs()
		if err != nil {
			return nil, err
		}
		return jobs.Get(ctx, b.JobID)
	})
}

// Pipeline resolves the pipeline owning this build's job.
func (b *Build) Pipeline(ctx context.Context) (*Pipeline, error) {
	job, err := b.Job(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return job.Pipeline(ctx)
}
