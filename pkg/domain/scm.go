package domain

import "context"

// Permissions describes what a token may do against a repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// PermissionsRequest identifies the repository a permission lookup targets.
// Token carries the plaintext SCM token; it is never persisted or logged.
// SCMRepo is optional decoration metadata when the caller already has it.
type PermissionsRequest struct {
	Token      string
	SCMURI     string
	SCMContext string
	SCMRepo    RepoInfo
}

// DecorateRequest asks the provider for display metadata about a repository.
type DecorateRequest struct {
	Token      string
	SCMURI     string
	SCMContext string
}

// SCM resolves permissions and repository metadata for a token. It is an
// external collaborator; pipelinecore only consumes this contract.
type SCM interface {
	GetPermissions(ctx context.Context, req PermissionsRequest) (Permissions, error)
	DecorateURL(ctx context.Context, req DecorateRequest) (RepoInfo, error)
}

// Executor receives build lifecycle signals. Cascading job removal stops each
// build through this contract before its row is removed.
type Executor interface {
	Stop(ctx context.Context, buildID string) error
}
