package perms

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownRole      = errors.New("unknown role")
	ErrBadTarget        = errors.New("invalid user reference")
)

// ConfigError reports a missing or malformed role or user document.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("permissions: load %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DeniedError is returned by SetRole when the actor may not grant or revoke Role.
type DeniedError struct {
	Role   string
	Revoke bool
}

func (e *DeniedError) Error() string {
	if e.Revoke {
		return fmt.Sprintf("not allowed to revoke role %q", e.Role)
	}
	return fmt.Sprintf("not allowed to grant role %q", e.Role)
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }
