// Copyright 2025 Certen Protocol

package service

import "strings"

// mapTopLevelError implements spec.md §4.4's literal per-call error
// mapping for the single top-level catastrophe entry emitted when
// getSystemInfo or chain construction fails outright.
func mapTopLevelError(err error) string {
	if err == nil {
		return "Unknown verification error occurred"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "fetch() URL is invalid"):
		return "Verification failed due to invalid URL configuration: " + msg
	case strings.Contains(msg, "Failed to fetch"):
		return "Network error during verification: " + msg
	case msg != "":
		return msg
	default:
		return "Unknown verification error occurred"
	}
}
