package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// LoadOrGenerateSigner loads the host key at path, creating an ed25519 key there on first use.
// An empty path yields an ephemeral key.
func LoadOrGenerateSigner(path string) (ssh.Signer, error) {
	if path == "" {
		return EphemeralSigner()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("sshserver: resolve host key path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("sshserver: parse host key %q: %w", absPath, err)
		}
		return signer, nil
	case errors.Is(err, fs.ErrNotExist):
		return generateHostKey(absPath)
	default:
		return nil, fmt.Errorf("sshserver: read host key %q: %w", absPath, err)
	}
}

func generateHostKey(path string) (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sshserver: generate host key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(key, "wschat host key")
	if err != nil {
		return nil, fmt.Errorf("sshserver: encode host key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sshserver: create host key dir %q: %w", dir, err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("sshserver: write host key %q: %w", path, err)
	}

	return ssh.NewSignerFromKey(key)
}
