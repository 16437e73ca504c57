package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// minKeyMlockKB is the smallest RLIMIT_MEMLOCK (in KiB) under which we
// expect memguard to lock key material without hitting mlock failures.
const minKeyMlockKB = 64

var secureKeyInit sync.Once

// initSecureMemory wires memguard's interrupt handler and checks the
// mlock budget once per process. API keys are tiny, so a low limit is
// logged rather than fatal.
func initSecureMemory() {
	secureKeyInit.Do(func() {
		memguard.CatchInterrupt()

		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			slog.Warn("Could not read RLIMIT_MEMLOCK, continuing", "error", err)
			return
		}
		limitKB := rlimit.Cur / 1024
		if rlimit.Cur != unix.RLIM_INFINITY && limitKB < minKeyMlockKB {
			slog.Warn("RLIMIT_MEMLOCK is low for locked key storage",
				"limit_kb", limitKB,
				"recommended_kb", minKeyMlockKB)
		}
	})
}

// SecureKey holds an API credential sealed in a memguard enclave.
// The plaintext only exists in locked memory while Reveal runs.
type SecureKey struct {
	enclave *memguard.Enclave
}

// LoadSecureKey resolves a credential from the environment variable
// envVar, falling back to the container secret at secretPath. The
// plaintext is sealed into an enclave and scrubbed from the
// environment so it does not linger in /proc/self/environ.
func LoadSecureKey(envVar, secretPath string) (*SecureKey, error) {
	initSecureMemory()

	raw := strings.TrimSpace(os.Getenv(envVar))
	source := "env:" + envVar
	if raw == "" && secretPath != "" {
		data, err := os.ReadFile(secretPath)
		if err == nil {
			raw = strings.TrimSpace(string(data))
			source = secretPath
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read secret %s: %w", secretPath, err)
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("%s not set and no secret found at %s", envVar, secretPath)
	}

	// NewEnclave wipes the slice we hand it; rawBytes is dead after this.
	rawBytes := []byte(raw)
	enclave := memguard.NewEnclave(rawBytes)
	raw = ""
	if err := os.Unsetenv(envVar); err != nil {
		slog.Warn("Failed to scrub credential from environment", "var", envVar, "error", err)
	}

	slog.Debug("Loaded credential into guarded memory", "source", source)
	return &SecureKey{enclave: enclave}, nil
}

// Reveal decrypts the enclave and returns the credential as a string.
// The locked buffer is destroyed before returning; the returned string
// is an ordinary heap copy for handing to SDK constructors.
func (k *SecureKey) Reveal() (string, error) {
	if k == nil || k.enclave == nil {
		return "", fmt.Errorf("secure key is empty or already destroyed")
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()
	return buf.String(), nil
}

// Destroy drops the enclave reference. Safe to call more than once.
func (k *SecureKey) Destroy() {
	if k == nil {
		return
	}
	k.enclave = nil
}
