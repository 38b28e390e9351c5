package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing required collaborator at first factory
// construction. It is permanent: the registry caches and re-returns it.
type ConfigurationError struct {
	Factory string
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s factory requires a %s", e.Factory, e.Missing)
}

// PersistenceError wraps a datastore failure with the operation and table it
// occurred on. The underlying error is preserved for errors.Is/As.
type PersistenceError struct {
	Op    string
	Table Table
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("datastore %s on %s: %v", e.Op, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SealingError reports a cryptographic seal or unseal failure. Unsealing with
// the wrong password and malformed ciphertexts both surface as SealingError.
type SealingError struct {
	Op  string
	Err error
}

func (e *SealingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SealingError) Unwrap() error { return e.Err }

// ValidationError reports a field shape rejected before persistence.
type ValidationError struct {
	Table Table
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Table, e.Field, e.Msg)
}

// ErrUnsupported indicates an operation the configured driver cannot perform.
var ErrUnsupported = errors.New("operation unsupported by datastore driver")
