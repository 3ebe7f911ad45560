package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMissingReference   = errors.New("referenced row does not exist")
	ErrNoPartition        = errors.New("no partition for value")
	ErrDuplicate          = errors.New("duplicate key")
	ErrCycle              = errors.New("location parent chain has a cycle")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError carries field-level messages for the caller.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
