package auth

import (
	"errors"
	"os"
	"strings"
	"sync"
)

const secretEnvVariable = "BLINDBID_JWT_SECRET"

var errMissingSecret = errors.New("auth secret is not configured")

// keyring holds the HS256 key. An explicitly installed key wins over the
// environment, which is read once on first use.
type keyring struct {
	mu     sync.Mutex
	key    []byte
	loaded bool
}

var signingKey keyring

func (k *keyring) get() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.loaded {
		if raw := strings.TrimSpace(os.Getenv(secretEnvVariable)); raw != "" {
			k.key = []byte(raw)
		}
		k.loaded = true
	}
	if len(k.key) == 0 {
		return nil, errMissingSecret
	}
	return k.key, nil
}

func (k *keyring) set(raw string, loaded bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = nil
	if raw = strings.TrimSpace(raw); raw != "" {
		k.key = []byte(raw)
	}
	k.loaded = loaded && len(k.key) > 0
}

// SetSecret installs the signing secret, overriding the environment. An empty
// value falls back to the environment again.
func SetSecret(raw string) { signingKey.set(raw, true) }

// ResetSecretForTests forgets any installed or cached secret.
func ResetSecretForTests() { signingKey.set("", false) }
