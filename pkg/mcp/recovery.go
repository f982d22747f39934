package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how a failed MCP operation is handled.
type RecoveryAction int

const (
	// NoRetry — not recoverable (bad request, protocol error, timeout).
	NoRetry RecoveryAction = iota
	// RetryNewSession — transport failure, recreate the session and retry.
	RetryNewSession
)

const (
	// operationTimeout is the per-call deadline for tools/call and tools/list.
	// Some external tools are legitimately slow.
	operationTimeout = 90 * time.Second

	// healthProbeTimeout bounds one health check ping.
	healthProbeTimeout = 5 * time.Second

	// healthFailureThreshold is the number of consecutive failed probes that
	// flips a ready server to failed.
	healthFailureThreshold = 3

	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond

	restartBackoffBase = 1 * time.Second
	restartBackoffMax  = 30 * time.Second
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// A timeout may just be a slow server; retrying doubles the wait.
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}
	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
