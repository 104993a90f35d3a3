package session

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Static serves a fixed token, typically injected through configuration or an
// environment variable.
type Static struct {
	Token string
}

// AccessToken returns the configured token.
func (s Static) AccessToken(context.Context) (string, error) {
	return s.Token, nil
}

// File reads the token from a file on every call, so an external refresher
// rotating the file takes effect without a restart.
type File struct {
	Path string
}

// AccessToken reads and trims the token file.
func (f File) AccessToken(context.Context) (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}

	return token, nil
}
