package trust

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/catest"
	"github.com/ird0/sftpcert/internal/cavault"
)

type staticSource struct {
	key ssh.PublicKey
	err error
}

func (s staticSource) CAPublicKey(ctx context.Context) (ssh.PublicKey, error) {
	return s.key, s.err
}

func TestLoadFromCA(t *testing.T) {
	ca, err := catest.New()
	if err != nil {
		t.Fatalf("start test CA: %v", err)
	}
	defer ca.Close()

	client := cavault.New(cavault.Config{
		Address: ca.URL(),
		Token:   ca.Token,
		Role:    "directory-service",
		Timeout: 5 * time.Second,
	})

	p, err := Load(context.Background(), client)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(p.CAPublicKey().Marshal()) != string(ca.PublicKey().Marshal()) {
		t.Error("cached anchor does not match the CA key")
	}
}

func TestLoadFailureIsFatal(t *testing.T) {
	tests := []struct {
		name string
		src  AnchorSource
	}{
		{"source error", staticSource{err: fmt.Errorf("vault sealed")}},
		{"nil key", staticSource{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.src)
			if !errors.Is(err, ErrTrustAnchorUnavailable) {
				t.Fatalf("expected ErrTrustAnchorUnavailable, got %v", err)
			}
		})
	}
}
