package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the stored bearer token has expired and a
// replay would be rejected by the backend anyway.
var ErrTokenExpired = errors.New("client: bearer token expired")

// StaticToken is a fixed bearer token. An empty value sends no
// Authorization header.
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// FileToken reads the bearer token from disk on every call so refreshes
// written by the host application are picked up between replays. JWT tokens
// are checked for expiry before use; opaque tokens pass through untouched.
type FileToken struct {
	Path string
}

func (f FileToken) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	if err := checkExpiry(tok); err != nil {
		return "", err
	}
	return tok, nil
}

// checkExpiry inspects the exp claim without verifying the signature; the
// backend is the authority on validity, this only avoids replaying with a
// token known to be stale.
func checkExpiry(tok string) error {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		// Not a JWT; expiry is the backend's problem.
		return nil
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return fmt.Errorf("%w (at %s)", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
