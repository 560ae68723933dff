package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvSource reads the token from an environment variable.
type EnvSource struct {
	Var string
}

// Token implements TokenSource.
func (s EnvSource) Token(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(s.Var))
	if v == "" {
		return "", fmt.Errorf("%s: %w", s.Var, ErrNotFound)
	}
	return v, nil
}

// FileSource reads the token from a local file.
type FileSource struct {
	Path string
}

// Token implements TokenSource.
func (s FileSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", s.Path, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%s is empty: %w", s.Path, ErrNotFound)
	}
	return v, nil
}
