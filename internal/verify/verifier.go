// Package verify decides whether a presented SSH credential is accepted.
//
// The decision is a fixed chain of named checks evaluated in order, each
// mapped to one rejection reason. The boundary contract is deliberately a
// bare boolean plus an audit event: verification failures never cross the
// authentication boundary as errors, so a propagation bug can never turn
// into an accepted login.
package verify

import (
	"bytes"
	"log"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/trust"
)

// Rejection reason codes, one per check in the chain.
const (
	ReasonRawKeyNotAllowed   = "RAW_KEY_NOT_ALLOWED"
	ReasonInvalidCASignature = "INVALID_CA_SIGNATURE"
	ReasonCertificateExpired = "CERTIFICATE_EXPIRED"
	ReasonPrincipalMismatch  = "PRINCIPAL_MISMATCH"
	ReasonInvalidCertType    = "INVALID_CERT_TYPE"
)

// Sink receives the audit event each verification produces.
// audit.Logger satisfies it.
type Sink interface {
	Success(username, clientAddress, certificateSerial string, validUntil time.Time)
	Rejection(username, clientAddress, reason string)
}

// Verifier runs the check chain against incoming credentials.
type Verifier struct {
	anchor *trust.Provider
	audit  Sink
	nowFn  func() time.Time
	checks []namedCheck
}

// credential is the per-attempt state the checks inspect.
type credential struct {
	username string
	key      ssh.PublicKey
	cert     *ssh.Certificate
	now      time.Time
}

type namedCheck struct {
	reason string
	ok     func(v *Verifier, c *credential) bool
}

// New creates a Verifier bound to one trust anchor.
func New(anchor *trust.Provider, audit Sink) *Verifier {
	v := &Verifier{
		anchor: anchor,
		audit:  audit,
		nowFn:  time.Now,
	}
	// Order matters: each check may rely on its predecessors having
	// passed (e.g. everything after the form check reads c.cert).
	v.checks = []namedCheck{
		{ReasonRawKeyNotAllowed, (*Verifier).checkIsCertificate},
		{ReasonInvalidCASignature, (*Verifier).checkTrustedSigner},
		{ReasonCertificateExpired, (*Verifier).checkValidityWindow},
		{ReasonPrincipalMismatch, (*Verifier).checkPrincipal},
		{ReasonInvalidCertType, (*Verifier).checkUserCertType},
	}
	return v
}

// Verify runs the chain for one authentication attempt and returns the
// accept/reject decision. Exactly one audit event is emitted per call.
func (v *Verifier) Verify(username, clientAddress string, key ssh.PublicKey) bool {
	c := &credential{
		username: username,
		key:      key,
		now:      v.nowFn(),
	}

	for _, check := range v.checks {
		if !check.ok(v, c) {
			log.Printf("[verify] authentication rejected: username=%s clientAddress=%s reason=%s",
				username, clientAddress, check.reason)
			v.audit.Rejection(username, clientAddress, check.reason)
			return false
		}
	}

	serial := formatSerial(c.cert.Serial)
	validUntil := time.Unix(int64(c.cert.ValidBefore), 0).UTC()
	log.Printf("[verify] authentication successful: username=%s clientAddress=%s serial=%s validUntil=%s",
		username, clientAddress, serial, validUntil.Format(time.RFC3339))
	v.audit.Success(username, clientAddress, serial, validUntil)
	return true
}

// checkIsCertificate rejects bare public keys. There is no static-key
// fallback: a raw key is always refused.
func (v *Verifier) checkIsCertificate(c *credential) bool {
	cert, ok := c.key.(*ssh.Certificate)
	if !ok {
		return false
	}
	c.cert = cert
	return true
}

// checkTrustedSigner requires the embedded signer key to be byte-equal to
// the trust anchor and the certificate signature to verify under it.
func (v *Verifier) checkTrustedSigner(c *credential) bool {
	caKey := v.anchor.CAPublicKey()
	if !bytes.Equal(c.cert.SignatureKey.Marshal(), caKey.Marshal()) {
		return false
	}

	// Byte equality alone would accept a forged certificate that merely
	// names the trusted CA as its signer; the signature must also hold.
	unsigned := *c.cert
	unsigned.Signature = nil
	payload := unsigned.Marshal()
	// Marshal appends an empty signature string; drop its length prefix.
	payload = payload[:len(payload)-4]
	if err := caKey.Verify(payload, c.cert.Signature); err != nil {
		return false
	}
	return true
}

// checkValidityWindow requires validAfter <= now < validBefore. Not-yet-
// valid and expired certificates are rejected identically.
func (v *Verifier) checkValidityWindow(c *credential) bool {
	now := uint64(c.now.Unix())
	return now >= c.cert.ValidAfter && now < c.cert.ValidBefore
}

// checkPrincipal requires the claimed username in the principal list.
func (v *Verifier) checkPrincipal(c *credential) bool {
	for _, p := range c.cert.ValidPrincipals {
		if p == c.username {
			return true
		}
	}
	return false
}

// checkUserCertType rejects host certificates.
func (v *Verifier) checkUserCertType(c *credential) bool {
	return c.cert.CertType == ssh.UserCert
}

func formatSerial(serial uint64) string {
	return strconv.FormatUint(serial, 10)
}
