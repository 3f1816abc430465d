// Package cert holds the issued-certificate record shared by the client-side
// lifecycle components.
package cert

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/keys"
)

// Record is one signed certificate together with the ephemeral key pair it
// certifies. Records are immutable: renewal produces a new Record and the
// manager swaps the reference atomically.
type Record struct {
	// SignedBlob is the signed certificate in OpenSSH authorized_keys
	// format, exactly as returned by the CA.
	SignedBlob string

	// Serial is the CA-assigned serial number.
	Serial string

	// Principal is the identity this certificate authenticates as.
	Principal string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// Keys is the ephemeral key pair the certificate binds.
	Keys *keys.Pair
}

// Expired reports whether the certificate has expired at the given instant.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// NeedsRenewal reports whether the certificate is within threshold of
// expiry at the given instant.
func (r *Record) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	return !now.Before(r.ExpiresAt.Add(-threshold))
}

// RemainingValidity returns how long the certificate is still valid, or
// zero if it has expired.
func (r *Record) RemainingValidity(now time.Time) time.Duration {
	remaining := r.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Certificate parses the signed blob into an ssh.Certificate.
func (r *Record) Certificate() (*ssh.Certificate, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(r.SignedBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed certificate: %w", err)
	}
	c, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("signed blob is not a certificate (type %s)", pub.Type())
	}
	return c, nil
}

// AuthSigner returns a signer that presents the certificate with the
// ephemeral private key, suitable for ssh.PublicKeys.
func (r *Record) AuthSigner() (ssh.Signer, error) {
	c, err := r.Certificate()
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewCertSigner(c, r.Keys.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to build certificate signer: %w", err)
	}
	return signer, nil
}
