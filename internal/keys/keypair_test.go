package keys

import (
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if pair.Signer == nil {
		t.Fatal("signer is nil")
	}
	if pair.PublicKey.Type() != ssh.KeyAlgoED25519 {
		t.Errorf("key type: got %s, want %s", pair.PublicKey.Type(), ssh.KeyAlgoED25519)
	}

	// The signer's public key must match the pair's public key.
	if string(pair.Signer.PublicKey().Marshal()) != string(pair.PublicKey.Marshal()) {
		t.Error("signer public key does not match pair public key")
	}
}

func TestGenerateUniqueness(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("first Generate() error: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("second Generate() error: %v", err)
	}

	if string(a.PublicKey.Marshal()) == string(b.PublicKey.Marshal()) {
		t.Error("two generated key pairs have identical public keys")
	}
}

func TestPublicAuthorizedKey(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	line := pair.PublicAuthorizedKey()
	if line == "" {
		t.Fatal("authorized key line is empty")
	}
	if line[len(line)-1] == '\n' {
		t.Error("authorized key line has a trailing newline")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		t.Fatalf("authorized key line does not parse: %v", err)
	}
	if string(parsed.Marshal()) != string(pair.PublicKey.Marshal()) {
		t.Error("parsed public key does not round-trip")
	}
}
