package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pipelinecore/pkg/domain"
)

// SecretFactory orchestrates secret persistence. Values are sealed before
// every write and unsealed on every read, so callers always see plaintext.
type SecretFactory struct {
	factory
	reg      *Registry
	password string
}

func newSecretFactory(r *Registry) *SecretFactory {
	return &SecretFactory{
		factory: factory{
			name:  "secret",
			table: domain.TableSecrets,
			keys:  []string{"pipelineId", "name"},
			ds:    r.ds,
		},
		reg:      r,
		password: r.password,
	}
}

// Secret wraps a persisted secret row. Value is plaintext on wrapped records
// and sealed at rest.
type Secret struct {
	domain.Secret

	f *SecretFactory
}

// SecretSpec carries caller-supplied fields for secret creation. Value is
// plaintext; it is sealed before the row is written.
type SecretSpec struct {
	PipelineID string
	Name       string
	Value      string
	AllowInPR  bool
}

func (f *SecretFactory) wrap(row domain.Row, plaintext string) *Secret {
	s := &Secret{f: f}
	s.ID = rowString(row, "id")
	s.PipelineID = rowString(row, "pipelineId")
	s.Name = rowString(row, "name")
	s.Value = plaintext
	s.AllowInPR = rowBool(row, "allowInPR")
	return s
}

// Create seals the value, derives the secret identity from
// (pipelineId, name) and saves a single row.
func (f *SecretFactory) Create(ctx context.Context, spec SecretSpec) (*Secret, error) {
	sealed, err := SealValue(spec.Value, f.password)
	if err != nil {
		return nil, err
	}
	data := domain.Row{
		"pipelineId": normalizeID(spec.PipelineID),
		"name":       spec.Name,
		"value":      sealed,
		"allowInPR":  spec.AllowInPR,
	}
	id, err := f.deriveID(data)
	if err != nil {
		return nil, err
	}
	row, err := f.save(ctx, id, data)
	if err != nil {
		return nil, err
	}
	return f.wrap(row, spec.Value), nil
}

// Get resolves a secret by identity and unseals its value; missing secrets
// are (nil, nil).
func (f *SecretFactory) Get(ctx context.Context, id any) (*Secret, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	plain, err := UnsealValue(rowString(row, "value"), f.password)
	if err != nil {
		return nil, err
	}
	return f.wrap(row, plain), nil
}

// List scans one page of secrets and unseals every value.
func (f *SecretFactory) List(ctx context.Context, opts ListOptions) ([]*Secret, error) {
	res, err := f.ListRaw(ctx, opts)
	if err != nil {
		return nil, err
	}
	return f.unsealRows(ctx, res.Rows)
}

// listAll collects every matching secret across pages, unsealed.
func (f *SecretFactory) listAll(ctx context.Context, opts ListOptions) ([]*Secret, error) {
	rows, err := f.listAllRaw(ctx, opts)
	if err != nil {
		return nil, err
	}
	return f.unsealRows(ctx, rows)
}

// unsealRows fans the unsealing out over a bounded group; one failure rejects
// the whole set rather than returning partial results.
func (f *SecretFactory) unsealRows(ctx context.Context, rows []domain.Row) ([]*Secret, error) {
	out := make([]*Secret, len(rows))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, row := range rows {
		g.Go(func() error {
			plain, err := UnsealValue(rowString(row, "value"), f.password)
			if err != nil {
				return err
			}
			out[i] = f.wrap(row, plain)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update re-seals the value and persists the secret's mutable fields.
func (s *Secret) Update(ctx context.Context) error {
	sealed, err := SealValue(s.Value, s.f.password)
	if err != nil {
		return err
	}
	_, err = s.f.update(ctx, s.ID, domain.Row{
		"value":     sealed,
		"allowInPR": s.AllowInPR,
	})
	return err
}

// Remove deletes the secret row.
func (s *Secret) Remove(ctx context.Context) error {
	return s.f.remove(ctx, s.ID)
}

// Pipeline resolves the owning pipeline; nil when it no longer exists.
func (s *Secret) Pipeline(ctx context.Context) (*Pipeline, error) {
	pipelines, err := s.f.reg.Pipelines()
	if err != nil {
		return nil, err
	}
	return pipelines.Get(ctx, s.PipelineID)
}
