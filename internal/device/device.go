// Package device derives a stable per-profile device fingerprint, used to
// decide whether a file can be resolved from local blob storage.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"runtime"
	"strings"
)

// Store is the persistence needed to cache the fingerprint.
type Store interface {
	LoadFingerprint() (string, error)
	SaveFingerprint(fp string) error
}

// Fingerprint returns the cached device fingerprint, computing and saving
// it on first use. The hash inputs are fixed environment characteristics so
// the value is stable for a given profile.
func Fingerprint(store Store) (string, error) {
	if fp, err := store.LoadFingerprint(); err == nil && fp != "" {
		return fp, nil
	}

	fp := compute()
	if err := store.SaveFingerprint(fp); err != nil {
		return "", err
	}
	return fp, nil
}

func compute() string {
	parts := []string{runtime.GOOS, runtime.GOARCH}

	if host, err := os.Hostname(); err == nil {
		parts = append(parts, host)
	}
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username)
	}
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		parts = append(parts, strings.TrimSpace(string(data)))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
