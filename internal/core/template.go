package core

import (
	"context"

	"pipelinecore/pkg/domain"
)

// TemplateFactory orchestrates template persistence.
type TemplateFactory struct {
	factory
	reg *Registry
}

func newTemplateFactory(r *Registry) *TemplateFactory {
	return &TemplateFactory{
		factory: factory{
			name:  "template",
			table: domain.TableTemplates,
			keys:  []string{"name", "version"},
			ds:    r.ds,
		},
		reg: r,
	}
}

// Template wraps a persisted template row.
type Template struct {
	domain.Template

	f *TemplateFactory
}

// TemplateSpec carries caller-supplied fields for template creation.
type TemplateSpec struct {
	Name        string
	Version     string
	Description string
	Maintainer  string
	PipelineID  string
	Config      map[string]any
	Labels      []string
}

func (f *TemplateFactory) wrap(row domain.Row) *Template {
	t := &Template{f: f}
	t.ID = rowString(row, "id")
	t.Name = rowString(row, "name")
	t.Version = rowString(row, "version")
	t.Description = rowString(row, "description")
	t.Maintainer = rowString(row, "maintainer")
	t.PipelineID = rowString(row, "pipelineId")
	t.Config = rowMap(row, "config")
	t.Labels = rowStrings(row, "labels")
	return t
}

// Create derives the template identity from (name, version) and saves a
// single row.
func (f *TemplateFactory) Create(ctx context.Context, spec TemplateSpec) (*Template, error) {
	data := domain.Row{
		"name":        spec.Name,
		"version":     spec.Version,
		"description": spec.Description,
		"maintainer":  spec.Maintainer,
	}
	if spec.PipelineID != "" {
		data["pipelineId"] = normalizeID(spec.PipelineID)
	}
	if spec.Config != nil {
		data["config"] = spec.Config
	}
	if spec.Labels != nil {
		data["labels"] = spec.Labels
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

// Get resolves a template by identity; missing templates are (nil, nil).
func (f *TemplateFactory) Get(ctx context.Context, id any) (*Template, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// GetBy resolves a template by partial fields, e.g. name and version.
func (f *TemplateFactory) GetBy(ctx context.Context, params domain.Row) (*Template, error) {
	row, err := f.get(ctx, "", params)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans templates.
func (f *TemplateFactory) List(ctx context.Context, opts ListOptions) ([]*Template, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// ListVersions lists every stored version of a named template, newest
// version string first.
func (f *TemplateFactory) ListVersions(ctx context.Context, name string) ([]*Template, error) {
	return f.List(ctx, ListOptions{
		Params: domain.Row{"name": name},
		Sort:   domain.SortDescending,
		SortBy: "version",
	})
}

// Update persists the template's mutable fields.
func (t *Template) Update(ctx context.Context) error {
	data := domain.Row{
		"description": t.Description,
		"maintainer":  t.Maintainer,
	}
	if t.Config != nil {
		data["config"] = t.Config
	}
	if t.Labels != nil {
		data["labels"] = t.Labels
	}
	_, err := t.f.update(ctx, t.ID, data)
	return err
}

// Remove deletes the template row.
func (t *Template) Remove(ctx context.Context) error {
	return t.f.remove(ctx, t.ID)
}
