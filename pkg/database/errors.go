// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAppNotFound is returned when an app record is not found.
	ErrAppNotFound = errors.New("app not found")

	// ErrTaskNotFound is returned when a verification task is not found.
	ErrTaskNotFound = errors.New("verification task not found")

	// ErrInvalidApp is returned when an app fails validity checks
	// (empty contract_address or model_or_domain).
	ErrInvalidApp = errors.New("app is not valid for verification")
)
