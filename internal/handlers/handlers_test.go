package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sundew-sh/sundew/internal/audit"
	"github.com/sundew-sh/sundew/internal/feed"
	"github.com/sundew-sh/sundew/internal/policy"
	"github.com/sundew-sh/sundew/internal/store"
)

func setupHandlers(t *testing.T) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	Store = s
	Hub = feed.NewHub()
	CredStore = policy.NewStore()
	Pipeline = nil

	t.Cleanup(func() {
		s.Close()
		Store = nil
		Hub = nil
		CredStore = nil
	})
}

func seedRecord(t *testing.T, peer string) *audit.Record {
	t.Helper()
	r := audit.NewRecord(peer)
	r.AddAction(audit.NewPasswordAttempt("root", "toor"))
	r.AddAction(audit.NewExecCommand([]string{"id"}))
	r.EndedAt = time.Now().UTC()
	if err := Store.Save(r); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return r
}

func TestHealthCheck(t *testing.T) {
	setupHandlers(t)

	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["database"] != "connected" {
		t.Errorf("database = %v, want connected", body["database"])
	}
}

func TestListRecords(t *testing.T) {
	setupHandlers(t)
	want := seedRecord(t, "203.0.113.9:50000")
	seedRecord(t, "198.51.100.1:2222")

	rec := httptest.NewRecorder()
	ListRecords(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records?peer=203.0.113.9:50000", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res store.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	if res.Entries[0].ID != want.ID.String() {
		t.Errorf("entry id = %q, want %q", res.Entries[0].ID, want.ID)
	}
	if len(res.Entries[0].Actions) != 2 {
		t.Errorf("actions = %d, want 2", len(res.Entries[0].Actions))
	}
}

func TestListRecords_BadParams(t *testing.T) {
	setupHandlers(t)

	for _, url := range []string{
		"/api/v1/records?limit=abc",
		"/api/v1/records?offset=x",
		"/api/v1/records?since=notatime",
		"/api/v1/records?until=13/37",
	} {
		rec := httptest.NewRecorder()
		ListRecords(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rec.Code)
		}
		var e apiError
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
			t.Fatalf("%s: decode error body: %v", url, err)
		}
		if e.Error == "" {
			t.Errorf("%s: error body = %q, want a populated error field", url, rec.Body.String())
		}
	}
}

func TestGetStats(t *testing.T) {
	setupHandlers(t)
	seedRecord(t, "")
	CredStore.Add("abc123")

	rec := httptest.NewRecorder()
	GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["connections"] != 1 {
		t.Errorf("connections = %v, want 1", body["connections"])
	}
	if body["login_attempts"] != 1 {
		t.Errorf("login_attempts = %v, want 1", body["login_attempts"])
	}
	if body["accepted_passwords"] != 1 {
		t.Errorf("accepted_passwords = %v, want 1", body["accepted_passwords"])
	}
}
