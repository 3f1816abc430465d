package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ird0/sftpcert/internal/audit"
	"github.com/ird0/sftpcert/internal/db"
)

const testAdminToken = "admin-secret"

func newTestServer(t *testing.T) (*Server, *audit.SQLStore) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	store := audit.NewStore(database)
	return NewServer("127.0.0.1:0", testAdminToken, store, false), store
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status: got %d, want 200", w.Code)
	}
}

func TestAuditRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)

	if w := do(t, s, http.MethodGet, "/v1/audit", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/v1/audit", "wrong"); w.Code != http.StatusForbidden {
		t.Errorf("wrong token: got %d, want 403", w.Code)
	}
}

func TestAuditQuery(t *testing.T) {
	s, store := newTestServer(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []*audit.Event{
		{Timestamp: base, Event: audit.EventAuthSuccess, Username: "alice", CertificateSerial: "1"},
		{Timestamp: base.Add(time.Second), Event: audit.EventAuthRejected, Username: "bob", Reason: "RAW_KEY_NOT_ALLOWED"},
	}
	for _, e := range seed {
		if err := store.Insert(e); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	w := do(t, s, http.MethodGet, "/v1/audit?event=AUTH_REJECTED", testAdminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("query status: got %d, want 200", w.Code)
	}

	var body struct {
		Events []*audit.Event `json:"events"`
		Count  int            `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 || len(body.Events) != 1 {
		t.Fatalf("count: got %d events=%d, want 1", body.Count, len(body.Events))
	}
	if body.Events[0].Reason != "RAW_KEY_NOT_ALLOWED" {
		t.Errorf("reason: got %s", body.Events[0].Reason)
	}
}

func TestAuditQueryEmptyResult(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/audit", testAdminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("query status: got %d, want 200", w.Code)
	}

	var body struct {
		Events []*audit.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Events == nil {
		t.Error("empty result serialized as null, want []")
	}
}

func TestAuditQueryBadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	if w := do(t, s, http.MethodGet, "/v1/audit?limit=abc", testAdminToken); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/v1/audit?limit=-1", testAdminToken); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d, want 400", w.Code)
	}
}
