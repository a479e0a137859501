// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultRole is assigned to users created lazily on first connection.
const DefaultRole = "student"

// Memory is an in-memory Users + Organizations implementation.
// Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	bySubject  map[string]*User
	orgs       map[string]*Organization
	defaultOrg string
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		bySubject: make(map[string]*User),
		orgs:      make(map[string]*Organization),
	}
}

// SetDefaultOrg assigns an organization to users created lazily.
// Empty (the default) leaves new users without an organization.
func (m *Memory) SetDefaultOrg(orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultOrg = orgID
}

// PutUser inserts or replaces a user record keyed by subject id.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := u
	m.bySubject[u.SubjectID] = &copied
}

// PutOrganization inserts or replaces an organization record.
func (m *Memory) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := o
	m.orgs[o.ID] = &copied
}

// ResolveOrCreate implements Users. An unknown subject gets a fresh user
// record with a generated id and the default role; a known subject has its
// email and display name backfilled if they were previously empty.
func (m *Memory) ResolveOrCreate(_ context.Context, subjectID, email, displayName string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.bySubject[subjectID]; ok {
		if u.Email == "" && email != "" {
			u.Email = email
		}
		if u.DisplayName == "" && displayName != "" {
			u.DisplayName = displayName
		}
		return *u, nil
	}

	u := &User{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		Role:        DefaultRole,
		OrgID:       m.defaultOrg,
		Email:       email,
		DisplayName: displayName,
	}
	m.bySubject[subjectID] = u
	return *u, nil
}

// Activation implements Organizations.
func (m *Memory) Activation(_ context.Context, orgID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orgs[orgID]
	if !ok {
		return false, ErrNotFound
	}
	return o.Active, nil
}
