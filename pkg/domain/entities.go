// Package domain defines the persistent CI/CD entities, the datastore and
// collaborator contracts, and the shared error taxonomy used by pipelinecore.
package domain

import "time"

// Table identifies the datastore table backing an entity type.
type Table string

// Tables backing the persistent entity types.
const (
	TablePipelines Table = "pipelines"
	TableJobs      Table = "jobs"
	TableBuilds    Table = "builds"
	TableUsers     Table = "users"
	TableSecrets   Table = "secrets"
	TableTokens    Table = "tokens"
	TableTriggers  Table = "triggers"
	TableTemplates Table = "templates"
)

// JobState enumerates the standing states of a job.
type JobState string

const (
	JobEnabled  JobState = "ENABLED"
	JobDisabled JobState = "DISABLED"
)

// BuildStatus enumerates build execution states.
type BuildStatus string

const (
	BuildQueued  BuildStatus = "QUEUED"
	BuildRunning BuildStatus = "RUNNING"
	BuildSuccess BuildStatus = "SUCCESS"
	BuildFailure BuildStatus = "FAILURE"
	BuildAborted BuildStatus = "ABORTED"
)

// RepoInfo carries decorated repository metadata returned by the SCM provider.
type RepoInfo struct {
	Name    string `json:"name"`
	Branch  string `json:"branch"`
	URL     string `json:"url"`
	Private bool   `json:"private"`
}

// Pipeline is a top-level CI/CD entity owning jobs, secrets and tokens.
type Pipeline struct {
	ID          string          `json:"id"`
	SCMURI      string          `json:"scmUri"`
	SCMContext  string          `json:"scmContext"`
	SCMRepo     RepoInfo        `json:"scmRepo"`
	CreateTime  time.Time       `json:"createTime"`
	Admins      map[string]bool `json:"admins,omitempty"`
	Annotations map[string]any  `json:"annotations,omitempty"`
}

// Job is a named unit of work within a pipeline. Jobs whose name carries the
// pull-request prefix are PR jobs; the rest are standing pipeline jobs.
type Job struct {
	ID         string   `json:"id"`
	PipelineID string   `json:"pipelineId"`
	Name       string   `json:"name"`
	State      JobState `json:"state"`
	Archived   bool     `json:"archived"`
}

// PRJobPrefix marks pull-request jobs by naming convention.
const PRJobPrefix = "PR-"

// Build is a single execution of a job. Build identities are assigned by the
// datastore rather than derived.
type Build struct {
	ID         string         `json:"id"`
	JobID      string         `json:"jobId"`
	Number     int            `json:"number"`
	Container  string         `json:"container,omitempty"`
	SHA        string         `json:"sha,omitempty"`
	Status     BuildStatus    `json:"status"`
	CreateTime time.Time      `json:"createTime"`
	StartTime  time.Time      `json:"startTime,omitzero"`
	EndTime    time.Time      `json:"endTime,omitzero"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// User is an SCM-backed account. Token holds the sealed ciphertext of the
// user's SCM token; it is never exposed through JSON.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	SCMContext string `json:"scmContext"`
	Token      string `json:"-"`
}

// Secret is a named sensitive value scoped to a pipeline. Value is sealed at
// rest and plaintext only in caller-visible records.
type Secret struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipelineId"`
	Name       string `json:"name"`
	Value      string `json:"-"`
	AllowInPR  bool   `json:"allowInPR"`
}

// Token is a named API token owned by a user or a pipeline. Only a one-way
// hash of the token value is persisted.
type Token struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId,omitempty"`
	PipelineID  string    `json:"pipelineId,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Hash        string    `json:"-"`
	LastUsed    time.Time `json:"lastUsed,omitzero"`
}

// Trigger is a declared dependency edge from a fully-qualified source job
// reference to an opaque downstream destination.
type Trigger struct {
	ID   string `json:"id"`
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// Template is a reusable, versioned job configuration.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	Maintainer  string         `json:"maintainer,omitempty"`
	PipelineID  string         `json:"pipelineId,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
}
