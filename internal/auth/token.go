// Package auth manages the API bearer token that protects the MCP endpoint.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFileName = "api_token"

// TokenPath returns where the generated token is stored under dataDir.
func TokenPath(dataDir string) string {
	return filepath.Join(dataDir, tokenFileName)
}

// ResolveToken returns the configured token when set. Otherwise it loads
// the token persisted under dataDir, generating one on first use.
func ResolveToken(configured, dataDir string) (string, bool, error) {
	if configured != "" {
		return configured, false, nil
	}
	return LoadOrCreateToken(dataDir)
}

// LoadOrCreateToken reads dataDir/api_token. A missing or blank file gets a
// fresh 256-bit hex token. The bool reports whether one was generated.
func LoadOrCreateToken(dataDir string) (string, bool, error) {
	data, err := os.ReadFile(TokenPath(dataDir))
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, false, nil
		}
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("reading api token: %w", err)
	}

	tok, err := writeNewToken(dataDir)
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}

// RotateToken replaces the persisted token. Clients holding the old one
// are rejected from then on.
func RotateToken(dataDir string) (string, error) {
	return writeNewToken(dataDir)
}

// Equal compares a presented token with the expected one in constant time.
// An empty expected token never matches.
func Equal(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func writeNewToken(dataDir string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(b)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(TokenPath(dataDir), []byte(tok+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing api token: %w", err)
	}
	return tok, nil
}
