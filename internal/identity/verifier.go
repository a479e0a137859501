// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Subject is the verified result of a credential check: a stable subject
// identifier plus optional profile claims used to backfill the directory.
type Subject struct {
	SubjectID   string
	Email       string
	DisplayName string
}

// TokenVerifier exchanges a raw bearer credential for a verified Subject.
// Implementations must return an error wrapping ErrUnauthenticated for any
// credential that cannot be trusted.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Subject, error)
}

// JWTVerifier verifies HS256-signed bearer tokens locally. Issuer and
// audience are enforced only when configured.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with secret.
func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &JWTVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		parser:   jwt.NewParser(opts...),
	}
}

// verifierClaims are the claims StudyPulse tokens carry. Email and name are
// optional profile claims.
type verifierClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Subject, error) {
	claims := &verifierClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return Subject{}, ErrUnauthenticated
	}
	if claims.Subject == "" {
		return Subject{}, fmt.Errorf("%w: token missing subject", ErrUnauthenticated)
	}

	return Subject{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}
