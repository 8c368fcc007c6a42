package server

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore answers authentication questions. The set of accounts is
// fixed at startup; there is no registration flow.
type CredentialStore interface {
	// Exists reports whether the username is known.
	Exists(username string) bool
	// Verify reports whether the secret matches the stored one for username.
	Verify(username, secret string) bool
}

// fileCredentialStore holds credentials loaded from the whitespace-separated
// credentials file. Stored secrets that look like bcrypt hashes are compared
// with bcrypt; anything else is compared as plaintext, so existing plain
// credential files keep working unchanged.
type fileCredentialStore struct {
	secrets map[string]string
}

// LoadCredentials reads the credentials file (one "username secret" pair per
// line). An unreadable or malformed file is a fatal startup error.
func LoadCredentials(path string) (CredentialStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	secrets := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("credentials file line %d: expected \"username secret\", got %q", lineNo, line)
		}
		username, secret := fields[0], fields[1]
		if _, dup := secrets[username]; dup {
			return nil, fmt.Errorf("credentials file line %d: duplicate username %q", lineNo, username)
		}
		secrets[username] = secret
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	return &fileCredentialStore{secrets: secrets}, nil
}

// NewStaticCredentials builds a store from an in-memory map, mainly for tests.
func NewStaticCredentials(secrets map[string]string) CredentialStore {
	copied := make(map[string]string, len(secrets))
	for user, secret := range secrets {
		copied[user] = secret
	}
	return &fileCredentialStore{secrets: copied}
}

func (s *fileCredentialStore) Exists(username string) bool {
	_, ok := s.secrets[username]
	return ok
}

func (s *fileCredentialStore) Verify(username, secret string) bool {
	stored, ok := s.secrets[username]
	if !ok {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	}
	return stored == secret
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
