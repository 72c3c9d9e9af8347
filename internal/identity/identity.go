// Package identity supplies bearer tokens for the transit API.
//
// Providers are asked for a token immediately before every request and never
// cache it; token lifetime is owned by whatever issues it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when no token is available.
var ErrNoToken = errors.New("no authentication token available")

// Provider returns the current identity token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// File reads the token from a file on every call, so an external login
// helper can rotate it while the session runs.
type File struct {
	Path string
}

func (f File) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNoToken, f.Path)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.Path)
	}
	return tok, nil
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) (string, error)

func (f Func) Token(ctx context.Context) (string, error) { return f(ctx) }
