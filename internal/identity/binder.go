// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package identity

import (
	"context"
	"fmt"

	"github.com/jwhitfield/studypulse/internal/directory"
)

// Binder exchanges a raw credential for a bound Identity: verify the
// credential, then resolve (or lazily create) the directory record by
// subject id.
type Binder struct {
	verifier TokenVerifier
	users    directory.Users
}

// NewBinder creates a binder over the given verifier and user directory.
func NewBinder(verifier TokenVerifier, users directory.Users) *Binder {
	return &Binder{verifier: verifier, users: users}
}

// Bind verifies token and resolves the application identity. Returns an
// error wrapping ErrUnauthenticated for missing or rejected credentials;
// the caller must close the connection with the unauthenticated close code
// and must not register it.
func (b *Binder) Bind(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: no credential supplied", ErrUnauthenticated)
	}

	subject, err := b.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	user, err := b.users.ResolveOrCreate(ctx, subject.SubjectID, subject.Email, subject.DisplayName)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve user for subject %s: %w", subject.SubjectID, err)
	}

	return Identity{
		UserID:      user.ID,
		Role:        user.Role,
		OrgID:       user.OrgID,
		DisplayName: user.DisplayName,
		SubjectID:   user.SubjectID,
	}, nil
}
