// Package catest runs an in-process certificate authority for tests. It
// speaks the same wire format as the real CA (sign endpoint, CA config
// endpoint, token header) and signs with a throwaway in-memory CA key.
package catest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"
)

// CA is a fake certificate authority backed by httptest.
type CA struct {
	Token      string
	TOTPSecret string

	// FailSign makes the sign endpoint return HTTP 500.
	FailSign atomic.Bool
	// EmptySignedKey makes the sign endpoint return an empty signed_key.
	EmptySignedKey atomic.Bool

	signer    ssh.Signer
	serial    atomic.Uint64
	signCalls atomic.Int64
	srv       *httptest.Server
}

// New starts a test CA with a fresh ed25519 CA key.
func New() (*CA, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA signer: %w", err)
	}

	ca := &CA{
		Token:  "test-ca-token",
		signer: signer,
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/ssh-client-signer/sign/:role", ca.handleSign)
	router.GET("/v1/ssh-client-signer/config/ca", ca.handleCAConfig)

	ca.srv = httptest.NewServer(router)
	return ca, nil
}

// URL returns the CA base URL.
func (ca *CA) URL() string { return ca.srv.URL }

// Close shuts the CA down.
func (ca *CA) Close() { ca.srv.Close() }

// PublicKey returns the CA public key, the trust anchor clients of this CA
// verify against.
func (ca *CA) PublicKey() ssh.PublicKey { return ca.signer.PublicKey() }

// SignCalls reports how many sign requests reached the CA.
func (ca *CA) SignCalls() int64 { return ca.signCalls.Load() }

type signRequest struct {
	PublicKey       string `json:"public_key"`
	ValidPrincipals string `json:"valid_principals"`
	TTL             string `json:"ttl"`
	CertType        string `json:"cert_type"`
	TOTP            string `json:"totp"`
}

func (ca *CA) handleSign(c *gin.Context) {
	ca.signCalls.Add(1)

	if c.GetHeader("X-Vault-Token") != ca.Token {
		c.JSON(http.StatusForbidden, gin.H{"errors": []string{"permission denied"}})
		return
	}

	if ca.FailSign.Load() {
		c.JSON(http.StatusInternalServerError, gin.H{"errors": []string{"signing backend unavailable"}})
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"invalid request body"}})
		return
	}

	if ca.TOTPSecret != "" && !totp.Validate(req.TOTP, ca.TOTPSecret) {
		c.JSON(http.StatusForbidden, gin.H{"errors": []string{"invalid totp"}})
		return
	}

	if ca.EmptySignedKey.Load() {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"signed_key": "", "serial_number": ""}})
		return
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.PublicKey))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"invalid public_key"}})
		return
	}

	ttl, err := time.ParseDuration(req.TTL)
	if err != nil || ttl <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"invalid ttl"}})
		return
	}

	certType := uint32(ssh.UserCert)
	if req.CertType == "host" {
		certType = ssh.HostCert
	}

	serial := ca.serial.Add(1)
	now := time.Now()
	signed, err := ca.mint(pub, certType, strings.Split(req.ValidPrincipals, ","), serial, now, now.Add(ttl))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"errors": []string{err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"signed_key":    strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signed))),
		"serial_number": strconv.FormatUint(serial, 10),
	}})
}

func (ca *CA) handleCAConfig(c *gin.Context) {
	if c.GetHeader("X-Vault-Token") != ca.Token {
		c.JSON(http.StatusForbidden, gin.H{"errors": []string{"permission denied"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"public_key": strings.TrimSpace(string(ssh.MarshalAuthorizedKey(ca.PublicKey()))),
	}})
}

// MintCertificate signs an arbitrary certificate for test scenarios that
// need full control over validity window, type, and principals.
func (ca *CA) MintCertificate(pub ssh.PublicKey, certType uint32, principals []string, validAfter, validBefore time.Time) (*ssh.Certificate, error) {
	return ca.mint(pub, certType, principals, ca.serial.Add(1), validAfter, validBefore)
}

func (ca *CA) mint(pub ssh.PublicKey, certType uint32, principals []string, serial uint64, validAfter, validBefore time.Time) (*ssh.Certificate, error) {
	c := &ssh.Certificate{
		Key:             pub,
		Serial:          serial,
		CertType:        certType,
		KeyId:           fmt.Sprintf("catest-%d", serial),
		ValidPrincipals: principals,
		ValidAfter:      uint64(validAfter.Unix()),
		ValidBefore:     uint64(validBefore.Unix()),
		Permissions: ssh.Permissions{
			Extensions: map[string]string{"permit-pty": ""},
		},
	}
	if err := c.SignCert(rand.Reader, ca.signer); err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	return c, nil
}
