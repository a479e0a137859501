// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwhitfield/studypulse/internal/directory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// signToken builds an HS256 token for tests.
func signToken(t *testing.T, secret string, mutate func(*jwt.RegisteredClaims), extra map[string]interface{}) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "sub-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	if mutate != nil {
		mutate(&claims)
	}

	mapClaims := jwt.MapClaims{}
	if claims.Subject != "" {
		mapClaims["sub"] = claims.Subject
	}
	if claims.ExpiresAt != nil {
		mapClaims["exp"] = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		mapClaims["iat"] = claims.IssuedAt.Unix()
	}
	if claims.Issuer != "" {
		mapClaims["iss"] = claims.Issuer
	}
	for k, v := range extra {
		mapClaims[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc123", "", "abc123"},
		{"lowercase scheme", "bearer abc123", "", "abc123"},
		{"query fallback", "", "tok-q", "tok-q"},
		{"header wins over query", "Bearer tok-h", "tok-q", "tok-h"},
		{"wrong scheme falls back", "Basic dXNlcg==", "tok-q", "tok-q"},
		{"empty bearer falls back", "Bearer ", "tok-q", "tok-q"},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/ws"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			r := httptest.NewRequest("GET", url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJWTVerifier_Valid(t *testing.T) {
	v := NewJWTVerifier(testSecret, "", "")
	token := signToken(t, testSecret, nil, map[string]interface{}{
		"email": "a@example.com",
		"name":  "Ada",
	})

	subject, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if subject.SubjectID != "sub-1" {
		t.Errorf("SubjectID = %q, want sub-1", subject.SubjectID)
	}
	if subject.Email != "a@example.com" {
		t.Errorf("Email = %q, want a@example.com", subject.Email)
	}
	if subject.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want Ada", subject.DisplayName)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	v := NewJWTVerifier(testSecret, "studypulse", "")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"wrong secret", signToken(t, "another-secret-another-secret-32", func(c *jwt.RegisteredClaims) {
			c.Issuer = "studypulse"
		}, nil)},
		{"expired", signToken(t, testSecret, func(c *jwt.RegisteredClaims) {
			c.Issuer = "studypulse"
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		}, nil)},
		{"wrong issuer", signToken(t, testSecret, func(c *jwt.RegisteredClaims) {
			c.Issuer = "someone-else"
		}, nil)},
		{"missing subject", signToken(t, testSecret, func(c *jwt.RegisteredClaims) {
			c.Issuer = "studypulse"
			c.Subject = ""
		}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("Verify() err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestBinder_Bind(t *testing.T) {
	users := directory.NewMemory()
	binder := NewBinder(NewJWTVerifier(testSecret, "", ""), users)

	token := signToken(t, testSecret, nil, map[string]interface{}{"name": "Ada"})

	id, err := binder.Bind(context.Background(), token)
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if id.UserID == "" {
		t.Error("bound identity missing user id")
	}
	if id.SubjectID != "sub-1" {
		t.Errorf("SubjectID = %q, want sub-1", id.SubjectID)
	}
	if id.Role != directory.DefaultRole {
		t.Errorf("Role = %q, want %q", id.Role, directory.DefaultRole)
	}

	// Same credential subject binds to the same user.
	again, err := binder.Bind(context.Background(), token)
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if again.UserID != id.UserID {
		t.Errorf("rebind UserID = %q, want %q", again.UserID, id.UserID)
	}
}

func TestBinder_Bind_EmptyToken(t *testing.T) {
	binder := NewBinder(NewJWTVerifier(testSecret, "", ""), directory.NewMemory())

	_, err := binder.Bind(context.Background(), "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Bind(\"\") err = %v, want ErrUnauthenticated", err)
	}
}

func TestBinder_Bind_BadToken(t *testing.T) {
	binder := NewBinder(NewJWTVerifier(testSecret, "", ""), directory.NewMemory())

	_, err := binder.Bind(context.Background(), "bogus")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Bind(bogus) err = %v, want ErrUnauthenticated", err)
	}
}
