package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"pipelinecore/pkg/domain"
)

// TokenFactory orchestrates API token persistence. Token values are stored
// only as a one-way hash; the plaintext is shown once at creation.
type TokenFactory struct {
	factory
	reg *Registry
}

func newTokenFactory(r *Registry) *TokenFactory {
	return &TokenFactory{
		factory: factory{
			name:  "token",
			table: domain.TableTokens,
			ds:    r.ds,
		},
		reg: r,
	}
}

// Token wraps a persisted API token row.
type Token struct {
	domain.Token

	f *TokenFactory
}

// TokenSpec carries caller-supplied fields for token creation. Exactly one of
// UserID and PipelineID names the owner. Value is the plaintext token being
// registered; only its hash is persisted.
type TokenSpec struct {
	UserID      string
	PipelineID  string
	Name        string
	Description string
	Value       string
}

// HashTokenValue is the one-way hash applied to API token values before
// persistence and lookup.
func HashTokenValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (f *TokenFactory) wrap(row domain.Row) *Token {
	t := &Token{f: f}
	t.ID = rowString(row, "id")
	t.UserID = rowString(row, "userId")
	t.PipelineID = rowString(row, "pipelineId")
	t.Name = rowString(row, "name")
	t.Description = rowString(row, "description")
	t.Hash = rowString(row, "hash")
	t.LastUsed = rowTime(row, "lastUsed")
	return t
}

// Create hashes the value, derives the token identity from its owner and
// name, and saves a single row. The owner is either a user or a pipeline.
func (f *TokenFactory) Create(ctx context.Context, spec TokenSpec) (*Token, error) {
	data := domain.Row{
		"name":        spec.Name,
		"description": spec.Description,
		"hash":        HashTokenValue(spec.Value),
	}
	ownerKey := ""
	switch {
	case spec.UserID != "" && spec.PipelineID != "":
		return nil, &domain.ValidationError{Table: f.table, Field: "pipelineId", Msg: "token cannot have two owners"}
	case spec.UserID != "":
		ownerKey = "userId"
		data[ownerKey] = normalizeID(spec.UserID)
	case spec.PipelineID != "":
		ownerKey = "pipelineId"
		data[ownerKey] = normalizeID(spec.PipelineID)
	default:
		return nil, &domain.ValidationError{Table: f.table, Field: "userId", Msg: "token requires an owner"}
	}
	id, err := f.deriveIDKeys(data, []string{ownerKey, "name"})
	if err != nil {
		return nil, err
	}
	row, err := f.save(ctx, id, data)
	if err != nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// Get resolves a token by identity; missing tokens are (nil, nil).
func (f *TokenFactory) Get(ctx context.Context, id any) (*Token, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// GetByValue resolves a token by its plaintext value, hashing it for the
// lookup. Used to authenticate API callers.
func (f *TokenFactory) GetByValue(ctx context.Context, value string) (*Token, error) {
	row, err := f.get(ctx, "", domain.Row{"hash": HashTokenValue(value)})
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans tokens.
func (f *TokenFactory) List(ctx context.Context, opts ListOptions) ([]*Token, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// MarkUsed stamps the token's last-use time.
func (t *Token) MarkUsed(ctx context.Context) error {
	now := time.Now().UTC()
	if _, err := t.f.update(ctx, t.ID, domain.Row{"lastUsed": now}); err != nil {
		return err
	}
	t.LastUsed = now
	return nil
}

// Update persists the token's mutable fields.
func (t *Token) Update(ctx context.Context) error {
	_, err := t.f.update(ctx, t.ID, domain.Row{
		"description": t.Description,
	})
	return err
}

// Remove deletes the token row.
func (t *Token) Remove(ctx context.Context) error {
	return t.f.remove(ctx, t.ID)
}
