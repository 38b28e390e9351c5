package core

import (
	"context"
	"fmt"

	"pipelinecore/pkg/domain"
)

// SourceRef builds a job's fully-qualified trigger source reference by
// namespacing the pipeline identity and job name. Trigger edges are matched
// by exact string equality on this reference.
func SourceRef(pipelineID, jobName string) string {
	return fmt.Sprintf("~pipe@%s:%s", normalizeID(pipelineID), jobName)
}

// TriggerFactory orchestrates trigger edge persistence and resolves the
// trigger dependency graph of a pipeline.
type TriggerFactory struct {
	factory
	reg *Registry
}

func newTriggerFactory(r *Registry) *TriggerFactory {
	return &TriggerFactory{
		factory: factory{
			name:  "trigger",
			table: domain.TableTriggers,
			keys:  []string{"src", "dest"},
			ds:    r.ds,
		},
		reg: r,
	}
}

// Trigger wraps a persisted trigger edge row.
type Trigger struct {
	domain.Trigger

	f *TriggerFactory
}

// TriggerSpec carries caller-supplied fields for trigger creation.
type TriggerSpec struct {
	Src  string
	Dest string
}

func (f *TriggerFactory) wrap(row domain.Row) *Trigger {
	t := &Trigger{f: f}
	t.ID = rowString(row, "id")
	t.Src = rowString(row, "src")
	t.Dest = rowString(row, "dest")
	return t
}

// Create derives the edge identity from (src, dest) and saves a single row.
func (f *TriggerFactory) Create(ctx context.Context, spec TriggerSpec) (*Trigger, error) {
	data := domain.Row{
		"src":  spec.Src,
		"dest": spec.Dest,
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

// Get resolves a trigger edge by identity; missing edges are (nil, nil).
func (f *TriggerFactory) Get(ctx context.Context, id any) (*Trigger, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans trigger edges.
func (f *TriggerFactory) List(ctx context.Context, opts ListOptions) ([]*Trigger, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// Remove deletes the trigger edge row.
func (t *Trigger) Remove(ctx context.Context) error {
	return t.f.remove(ctx, t.ID)
}
