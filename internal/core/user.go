package core

import (
	"context"

	"pipelinecore/pkg/domain"
)

// UserFactory orchestrates user persistence. SCM tokens are sealed before
// every write and unsealed only for permission lookups; plaintext tokens are
// never cached.
type UserFactory struct {
	factory
	reg      *Registry
	scm      domain.SCM
	password string
}

func newUserFactory(r *Registry) *UserFactory {
	return &UserFactory{
		factory: factory{
			name:  "user",
			table: domain.TableUsers,
			keys:  []string{"username", "scmContext"},
			ds:    r.ds,
		},
		reg:      r,
		scm:      r.scm,
		password: r.password,
	}
}

// User wraps a persisted user row. Token holds the sealed ciphertext.
type User struct {
	domain.User

	f      *UserFactory
	tokens relation[[]*Token]
}

// UserSpec carries caller-supplied fields for user creation. Token is the
// plaintext SCM token; it is sealed before the row is written.
type UserSpec struct {
	Username   string
	SCMContext string
	Token      string
}

func (f *UserFactory) wrap(row domain.Row) *User {
	u := &User{f: f}
	u.ID = rowString(row, "id")
	u.Username = rowString(row, "username")
	u.SCMContext = rowString(row, "scmContext")
	u.Token = rowString(row, "token")
	return u
}

// Create seals the SCM token, derives the user identity from
// (username, scmContext) and saves a single row.
func (f *UserFactory) Create(ctx context.Context, spec UserSpec) (*User, error) {
	sealed, err := SealValue(spec.Token, f.password)
	if err != nil {
		return nil, err
	}
	data := domain.Row{
		"username":   spec.Username,
		"scmContext": spec.SCMContext,
		"token":      sealed,
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

// Get resolves a user by identity; missing users are (nil, nil).
func (f *UserFactory) Get(ctx context.Context, id any) (*User, error) {
	row, err := f.get(ctx, normalizeID(id), nil)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// GetBy resolves a user by partial fields, e.g. username and scmContext.
func (f *UserFactory) GetBy(ctx context.Context, params domain.Row) (*User, error) {
	row, err := f.get(ctx, "", params)
	if err != nil || row == nil {
		return nil, err
	}
	return f.wrap(row), nil
}

// List scans users.
func (f *UserFactory) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	out, _, err := listRecords(ctx, &f.factory, opts, f.wrap)
	return out, err
}

// UnsealToken returns the user's plaintext SCM token for the duration of a
// single call. The result is never stored back on the record.
func (u *User) UnsealToken() (string, error) {
	return UnsealValue(u.Token, u.f.password)
}

// UpdateToken seals a new SCM token and persists it.
func (u *User) UpdateToken(ctx context.Context, token string) error {
	sealed, err := SealValue(token, u.f.password)
	if err != nil {
		return err
	}
	if _, err := u.f.update(ctx, u.ID, domain.Row{"token": sealed}); err != nil {
		return err
	}
	u.Token = sealed
	return nil
}

// GetPermissions unseals the user's token and asks the SCM provider what it
// may do against the repository.
func (u *User) GetPermissions(ctx context.Context, scmURI string) (domain.Permissions, error) {
	token, err := u.UnsealToken()
	if err != nil {
		return domain.Permissions{}, err
	}
	return u.f.scm.GetPermissions(ctx, domain.PermissionsRequest{
		Token:      token,
		SCMURI:     scmURI,
		SCMContext: u.SCMContext,
	})
}

// Remove deletes the user and its API tokens.
func (u *User) Remove(ctx context.Context) error {
	tokens, err := u.Tokens(ctx)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := t.Remove(ctx); err != nil {
			return err
		}
	}
	return u.f.remove(ctx, u.ID)
}

// Tokens lazily resolves all of the user's API tokens, memoized per record
// instance.
func (u *User) Tokens(ctx context.Context) ([]*Token, error) {
	return u.tokens.resolve(func() ([]*Token, error) {
		tokens, err := u.f.reg.Tokens()
		if err != nil {
			return nil, err
		}
		return listAllRecords(ctx, &tokens.factory, ListOptions{Params: domain.Row{"userId": u.ID}}, tokens.wrap)
	})
}
