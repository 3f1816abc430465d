// Package cavault is the client for the external SSH certificate authority,
// a Vault-style SSH secrets engine. It signs ephemeral public keys and
// serves the CA public key used as the server-side trust anchor.
package cavault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/cert"
	"github.com/ird0/sftpcert/internal/keys"
)

const (
	signPathTemplate = "/v1/ssh-client-signer/sign/%s"
	caConfigPath     = "/v1/ssh-client-signer/config/ca"

	tokenHeader = "X-Vault-Token"
)

// SigningError indicates the CA could not produce a usable certificate:
// unreachable endpoint, non-2xx status, or an incomplete response. A Record
// is never constructed from a partial response.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("certificate signing failed: %s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Config configures the CA client.
type Config struct {
	// Address is the CA base URL, e.g. "https://vault.internal:8200".
	Address string
	// Token authenticates requests to the CA.
	Token string
	// Role is the signing role name embedded in the sign path.
	Role string
	// TOTPSecret, when non-empty, adds a one-time passcode to each sign
	// request for roles that demand a second factor.
	TOTPSecret string
	// Timeout bounds each request to the CA.
	Timeout time.Duration
}

// Client talks to the CA over authenticated HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	nowFn      func() time.Time
}

// New creates a CA client. A zero timeout defaults to 10 seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		nowFn:      time.Now,
	}
}

type signRequest struct {
	PublicKey       string `json:"public_key"`
	ValidPrincipals string `json:"valid_principals"`
	TTL             string `json:"ttl"`
	CertType        string `json:"cert_type"`
	TOTP            string `json:"totp,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}

type signResponseData struct {
	SignedKey    string `json:"signed_key"`
	SerialNumber string `json:"serial_number"`
}

type signResponse struct {
	Data signResponseData `json:"data"`
}

type caConfigResponse struct {
	Data struct {
		PublicKey string `json:"public_key"`
	} `json:"data"`
}

// Sign submits the pair's public key for signing and returns the issued
// record. issuedAt is taken at request time and expiresAt is issuedAt+ttl,
// matching the CA's own TTL accounting.
func (c *Client) Sign(ctx context.Context, pair *keys.Pair, principal string, ttl time.Duration) (*cert.Record, error) {
	if ttl <= 0 {
		return nil, &SigningError{Op: "validate request", Err: fmt.Errorf("ttl must be positive, got %s", ttl)}
	}

	req := signRequest{
		PublicKey:       pair.PublicAuthorizedKey(),
		ValidPrincipals: principal,
		TTL:             fmt.Sprintf("%ds", int64(ttl.Seconds())),
		CertType:        "user",
		RequestID:       uuid.NewString(),
	}

	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.nowFn())
		if err != nil {
			return nil, &SigningError{Op: "generate totp", Err: err}
		}
		req.TOTP = code
	}

	issuedAt := c.nowFn()

	var resp signResponse
	signPath := fmt.Sprintf(signPathTemplate, c.cfg.Role)
	if err := c.do(ctx, http.MethodPost, signPath, req, &resp); err != nil {
		return nil, &SigningError{Op: "sign " + signPath, Err: err}
	}

	if strings.TrimSpace(resp.Data.SignedKey) == "" {
		return nil, &SigningError{Op: "sign " + signPath, Err: fmt.Errorf("empty signed_key in response")}
	}

	record := &cert.Record{
		SignedBlob: strings.TrimSpace(resp.Data.SignedKey),
		Serial:     resp.Data.SerialNumber,
		Principal:  principal,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(ttl),
		Keys:       pair,
	}

	log.Printf("[cavault] certificate obtained: serial=%s principal=%s expiresAt=%s",
		record.Serial, record.Principal, record.ExpiresAt.Format(time.RFC3339))

	return record, nil
}

// CAPublicKey reads the CA's public key, the verification trust anchor.
func (c *Client) CAPublicKey(ctx context.Context) (ssh.PublicKey, error) {
	var resp caConfigResponse
	if err := c.do(ctx, http.MethodGet, caConfigPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read CA public key: %w", err)
	}

	raw := strings.TrimSpace(resp.Data.PublicKey)
	if raw == "" {
		return nil, fmt.Errorf("CA returned an empty public_key")
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA public key: %w", err)
	}
	return pub, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.Address+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set(tokenHeader, c.cfg.Token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// Read a bounded amount of the body for the error message.
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("CA returned status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
