package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/m-mizutani/pika/pkg/credential"
	"github.com/m-mizutani/pika/pkg/model"
)

// classify converts a transport failure of a call to srv into a typed ToolError. callCtx
// is the context of the failed call; its deadline tells timeouts apart from other
// failures.
func classify(callCtx context.Context, srv ServerConfig, tool string, err error) *model.ToolError {
	te := &model.ToolError{Tool: tool, Message: err.Error(), Cause: err}

	switch {
	case errors.Is(err, context.Canceled):
		// caller cancellation; the agent loop notices it at its next boundary
		te.Kind = model.ToolErrorBackend
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		te.Kind = model.ToolErrorTimeout
	case isAuthFailure(srv, err):
		te.Kind = model.ToolErrorAuthExpired
	case isUnknownTool(err):
		te.Kind = model.ToolErrorNotFound
	default:
		te.Kind = model.ToolErrorBackend
		if isConnectionError(err) {
			te.Message = "backend unreachable: " + err.Error()
		}
	}
	return te
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isAuthFailure reports whether the failed call itself was rejected for its credential.
// Only http and sse servers carry a bearer token.
func isAuthFailure(srv ServerConfig, err error) bool {
	if errors.Is(err, credential.ErrAuthExpired) {
		return true
	}
	if !srv.usesAuth() {
		return false
	}
	return containsAny(err.Error(), "401", "403", "unauthorized", "forbidden",
		"token expired", "invalid_token", "bearer token rejected")
}

func isUnknownTool(err error) bool {
	return containsAny(err.Error(), "unknown tool", "tool not found", "no such tool")
}

// isConnectionError detects connection-level transport failures
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return containsAny(err.Error(),
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	)
}

func containsAny(msg string, needles ...string) bool {
	msg = strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
