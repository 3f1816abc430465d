// Package keys generates ephemeral SSH key pairs.
//
// Every key pair lives only in process memory. Nothing here touches the
// filesystem: a pair is generated, certified, used for authentication, and
// discarded when the certificate it backs is superseded.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Pair is an in-memory ed25519 key pair usable as an SSH identity.
type Pair struct {
	Signer    ssh.Signer
	PublicKey ssh.PublicKey
}

// Generate creates a fresh ed25519 key pair. Two calls never return the
// same key material. It fails only if the system entropy source does.
func Generate() (*Pair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH signer: %w", err)
	}

	return &Pair{
		Signer:    signer,
		PublicKey: signer.PublicKey(),
	}, nil
}

// PublicAuthorizedKey returns the public key in OpenSSH authorized_keys
// format without the trailing newline, the form the CA sign request carries.
func (p *Pair) PublicAuthorizedKey() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(p.PublicKey)))
}
