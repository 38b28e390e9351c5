package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pipelinecore/pkg/domain"
)

// fanOutLimit bounds concurrent collaborator calls issued by batch
// operations (cascade removal, list unsealing).
const fanOutLimit = 8

// PipelineFactory orchestrates pipeline persistence.
type PipelineFactory struct {
	factory
	reg *Registry
	scm domain.SCM
}

func newPipelineFactory(r *Registry) *PipelineFactory {
	return &PipelineFactory{
		factory: factory{
			name:  "pipeline",
			table: domain.TablePipelines,
			keys:  []string{"scmUri", "scmContext"},
			ds:    r.ds,
		},
		reg: r,
		scm: r.scm,
	}
}

// Pipeline wraps a persisted pipeline row with delegated mutation and lazy
// relation accessors.
type Pipeline struct {
	domain.Pipeline

	f       *PipelineFactory
	jobs    relation[[]*Job]
	secrets relation[[]*Secret]
	tokens  relation[[]*Token]
}

// PipelineSpec carries the caller-supplied fields for pipeline creation.
// Token is the creating admin's plaintext SCM token used to decorate the
// repository; it is not persisted.
type PipelineSpec struct {
	SCMURI      string
	SCMContext  string
	Token       string
	Admins      map[string]bool
	Annotations map[string]any
}

func (f *PipelineFactory) wrap(row domain.Row) *Pipeline {
	p := &Pipeline{f: f}
	p.ID = rowString(row, "id")
	p.SCMURI = rowString(row, "scmUri")
	p.SCMContext = rowString(row, "scmContext")
	p.CreateTime = rowTime(row, "createTime")
	p.Admins = rowBoolMap(row, "admins")
	p.Annotations = rowMap(row, "annotations")
	if repo := rowMap(row, "scmRepo"); repo != nil {
		p.SCMRepo = domain.RepoInfo{
			Name:    rowString(repo, "name"),
			Branch:  rowString(repo, "branch"),
			URL:     rowString(repo, "url"),
			Private: rowBool(repo, "private"),
		}
	}
	return p
}

func repoRow(r domain.RepoInfo) domain.Row {
	return domain.Row{"name": r.Name, "branch": r.Branch, "url": r.URL, "private": r.Private}
}

// Create decorates the repository through the SCM provider, derives the
// pipeline identity from its natural key and saves a single row. Identity
// derivation is deterministic: two callers creating the same pipeline
// converge on one row instead of racing into duplicates.
func (f *PipelineFactory) Create(ctx context.Context, spec PipelineSpec) (*Pipeline, error) {
	repo, err := f.scm.DecorateURL(ctx, domain.DecorateRequest{
		Token:      spec.Token,
		SCMURI:     spec.SCMURI,
		SCMContext: spec.SCMContext,
	})
	if err != nil {
		return nil, fmt.Errorf("decorate %s: %w", spec.SCMURI, err)
	}
	data := domain.Row{
		"scmUri":     spec.SCMURI,
		"scmContext": spec.SCMContext,
		"scmRepo":    repoRow(repo),
		"createTime": time.Now().UTC(),
		"admins":     spec.Admins,
	}
	if spec.Annotations != nil {
		data["annotations"] = spec.Annotations
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

// Get resolves a pipeline by identity. A missing pipeline is (nil, nil).
func (f *PipelineFactory) Get(ctx context.Context, id any) (*Pipeline, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// GetBy resolves a pipeline by a partial-field lookup, e.g. its scmUri.
func (f *PipelineFactory) GetBy(ctx context.Context, params domain.Row) (*Pipeline, error) {
	row, err := f.get(ctx, "", params)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans pipelines with pagination, sorting, search and filters.
func (f *PipelineFactory) List(ctx context.Context, opts ListOptions) ([]*Pipeline, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// ListWithCount is List with the total match count before pagination.
func (f *PipelineFactory) ListWithCount(ctx context.Context, opts ListOptions) ([]*Pipeline, int, error) {
	opts.GetCount = true
	return listRecords(ctx, &f.factory, opts, f.wrap)
}

// Update persists the pipeline's mutable fields.
func (p *Pipeline) Update(ctx context.Context) error {
	data := domain.Row{
		"scmRepo": repoRow(p.SCMRepo),
		"admins":  p.Admins,
	}
	if p.Annotations != nil {
		data["annotations"] = p.Annotations
	}
	_, err := p.f.update(ctx, p.ID, data)
	return err
}

// Remove deletes the pipeline and everything it owns: jobs (each stopping
// and removing its builds first), secrets, pipeline-scoped tokens, and
// trigger edges sourced from its jobs.
func (p *Pipeline) Remove(ctx context.Context) error {
	jobs, err := p.Jobs(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, job := range jobs {
		g.Go(func() error { return job.Remove(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.removeSecrets(ctx); err != nil {
		return err
	}
	if err := p.removeTokens(ctx); err != nil {
		return err
	}
	return p.f.remove(ctx, p.ID)
}

func (p *Pipeline) removeSecrets(ctx context.Context) error {
	secrets, err := p.reg().Secrets()
	if err != nil {
		return err
	}
	rows, err := secrets.listAllRaw(ctx, ListOptions{Params: domain.Row{"pipelineId": p.ID}})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, row := range rows {
		id := rowString(row, "id")
		g.Go(func() error { return secrets.remove(gctx, id) })
	}
	return g.Wait()
}

func (p *Pipeline) removeTokens(ctx context.Context) error {
	tokens, err := p.reg().Tokens()
	if err != nil {
		return err
	}
	rows, err := tokens.listAllRaw(ctx, ListOptions{Params: domain.Row{"pipelineId": p.ID}})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, row := range rows {
		id := rowString(row, "id")
		g.Go(func() error { return tokens.remove(gctx, id) })
	}
	return g.Wait()
}

func (p *Pipeline) reg() *Registry { return p.f.reg }

// Jobs lazily resolves all of the pipeline's jobs, memoized per record
// instance.
func (p *Pipeline) Jobs(ctx context.Context) ([]*Job, error) {
	return p.jobs.resolve(func() ([]*Job, error) {
		jobs, err := p.reg().Jobs()
		if err != nil {
			return nil, err
		}
		return listAllRecords(ctx, &jobs.factory, ListOptions{
			Params: domain.Row{"pipelineId": p.ID},
			Sort:   domain.SortAscending,
			SortBy: "name",
		}, jobs.wrap)
	})
}

// Secrets lazily resolves all of the pipeline's secrets with plaintext
// values.
func (p *Pipeline) Secrets(ctx context.Context) ([]*Secret, error) {
	return p.secrets.resolve(func() ([]*Secret, error) {
		secrets, err := p.reg().Secrets()
		if err != nil {
			return nil, err
		}
		return secrets.listAll(ctx, ListOptions{Params: domain.Row{"pipelineId": p.ID}})
	})
}

// Tokens lazily resolves all of the pipeline's API tokens.
func (p *Pipeline) Tokens(ctx context.Context) ([]*Token, error) {
	return p.tokens.resolve(func() ([]*Token, error) {
		tokens, err := p.reg().Tokens()
		if err != nil {
			return nil, err
		}
		return listAllRecords(ctx, &tokens.factory, ListOptions{Params: domain.Row{"pipelineId": p.ID}}, tokens.wrap)
	})
}
