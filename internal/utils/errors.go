package utils

import "strings"

// IsTransientError reports whether err looks like a short-lived infrastructure
// failure worth retrying or requeueing.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporarily unavailable",
		"throttl",
	} {
		if strings.Contains(errorStr, marker) {
			return true
		}
	}
	return false
}

// IsFatalError reports infrastructure failures that should stop the worker.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := strings.ToLower(err.Error())

	// RabbitMQ connection issues
	if strings.Contains(errorStr, "connection closed") || strings.Contains(errorStr, "channel closed") {
		return true
	}

	// AWS authentication issues
	if strings.Contains(errorStr, "invalid credentials") || strings.Contains(errorStr, "access denied") {
		return true
	}

	// System resource issues
	if strings.Contains(errorStr, "no space left") || strings.Contains(errorStr, "out of memory") {
		return true
	}

	return false
}
