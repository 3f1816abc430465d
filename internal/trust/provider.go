// Package trust loads and caches the CA public key the server verifies
// certificates against.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/pkg/sshutil"
)

// ErrTrustAnchorUnavailable means the CA public key could not be obtained.
// The server must refuse to start in that case: without a trust anchor every
// certificate check would silently pass.
var ErrTrustAnchorUnavailable = errors.New("trust anchor unavailable")

// AnchorSource supplies the CA public key. *cavault.Client satisfies it.
type AnchorSource interface {
	CAPublicKey(ctx context.Context) (ssh.PublicKey, error)
}

// Provider holds the trust anchor for the process lifetime. It is loaded
// eagerly at startup and read-only afterward, so readers need no locking.
type Provider struct {
	caKey ssh.PublicKey
}

// Load fetches the CA public key once. Failure wraps
// ErrTrustAnchorUnavailable and must abort server initialization.
func Load(ctx context.Context, src AnchorSource) (*Provider, error) {
	key, err := src.CAPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustAnchorUnavailable, err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: source returned no key", ErrTrustAnchorUnavailable)
	}

	log.Printf("[trust] CA trust anchor loaded (%s, %s)", key.Type(), sshutil.Fingerprint(key))
	return &Provider{caKey: key}, nil
}

// CAPublicKey returns the cached trust anchor.
func (p *Provider) CAPublicKey() ssh.PublicKey {
	return p.caKey
}
