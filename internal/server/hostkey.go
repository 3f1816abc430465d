package server

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// LoadOrGenerateHostKey loads the daemon host key or generates and saves a
// new one on first start. The host identity then survives restarts.
func LoadOrGenerateHostKey(path, keyType string) (ssh.Signer, error) {
	if _, err := os.Stat(path); err == nil {
		return loadHostKey(path)
	}

	log.Printf("[server] no host key at %s, generating a new %s key", path, keyType)
	return generateHostKey(path, keyType)
}

// loadHostKey loads an existing host key from file
func loadHostKey(path string) (ssh.Signer, error) {
	privateBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host key: %w", err)
	}

	return signer, nil
}

// generateHostKey generates a new host key and saves it
func generateHostKey(path, keyType string) (ssh.Signer, error) {
	var key crypto.Signer

	switch keyType {
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		key = priv

	case "rsa":
		priv, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		key = priv

	default:
		return nil, fmt.Errorf("unsupported host key type: %s", keyType)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH signer: %w", err)
	}

	if err := saveHostKey(key, signer.PublicKey(), path); err != nil {
		return nil, fmt.Errorf("failed to save host key: %w", err)
	}

	return signer, nil
}

// saveHostKey writes the key pair next to each other: the private key at
// path with restrictive permissions, the public key at path + ".pub".
func saveHostKey(key crypto.Signer, pub ssh.PublicKey, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for host key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return fmt.Errorf("failed to marshal host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write host key: %w", err)
	}

	if err := os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(pub), 0644); err != nil {
		return fmt.Errorf("failed to write host public key: %w", err)
	}

	return nil
}
