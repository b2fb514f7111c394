package model

import (
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolDescriptor describes one tool exposed by the gateway
type ToolDescriptor struct {
	Name        string
	Description string
	Domain      Domain
	Server      string
	InputSchema *jsonschema.Schema
}

// ToolResult is the successful outcome of a tool invocation
type ToolResult struct {
	Tool    string
	Content string
}

type ToolErrorKind string

const (
	ToolErrorTimeout          ToolErrorKind = "timeout"
	ToolErrorAuthExpired      ToolErrorKind = "auth_expired"
	ToolErrorNotFound         ToolErrorKind = "not_found"
	ToolErrorBackend          ToolErrorKind = "backend_error"
	ToolErrorInvalidArguments ToolErrorKind = "invalid_arguments"
)

// ToolError is the typed failure of a tool invocation. The gateway returns it instead of
// raw transport errors so callers can decide to retry, re-authenticate or continue.
type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// IsAuthExpired reports whether the error requires re-authentication
func (e *ToolError) IsAuthExpired() bool {
	return e != nil && e.Kind == ToolErrorAuthExpired
}

// AsToolError extracts a ToolError from err
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
