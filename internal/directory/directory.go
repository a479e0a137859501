// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package directory defines the user and tenant lookup collaborators the
// realtime core depends on. The production application backs these with its
// relational store; this package ships an in-memory implementation used by
// the standalone server and by tests.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("directory: not found")

// User is a directory record resolved from a verified credential subject.
type User struct {
	ID          string
	SubjectID   string
	Role        string
	OrgID       string // empty when the user belongs to no organization
	Email       string
	DisplayName string
}

// Organization is a tenant record.
type Organization struct {
	ID     string
	Name   string
	Active bool
}

// Users resolves credential subjects to application users, lazily creating
// records on first sight and backfilling email/display name when a record
// was created without them.
type Users interface {
	ResolveOrCreate(ctx context.Context, subjectID, email, displayName string) (User, error)
}

// Organizations reports tenant activation state.
type Organizations interface {
	// Activation returns whether the organization accepts traffic.
	// Returns ErrNotFound when the organization does not exist.
	Activation(ctx context.Context, orgID string) (bool, error)
}
