package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"raptor/internal/store"
)

const testMint = "So11111111111111111111111111111111111111112"

type fakeStore struct {
	seen map[string]int64
	next int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]int64)}
}

func (f *fakeStore) InsertCandidate(ctx context.Context, c *store.LaunchCandidate) (*store.LaunchCandidate, bool, error) {
	key := string(c.Chain) + "|" + c.Source + "|" + c.TokenMint
	if id, ok := f.seen[key]; ok {
		dup := *c
		dup.ID = id
		return &dup, false, nil
	}
	f.next++
	f.seen[key] = f.next
	out := *c
	out.ID = f.next
	return &out, true, nil
}

func postCandidate(t *testing.T, s *Server, token string, payload CandidatePayload) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", "/candidates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func validPayload() CandidatePayload {
	return CandidatePayload{
		Chain:     "SOL",
		Source:    "pumpfun",
		TokenMint: testMint,
		Name:      "Wrapped SOL",
		Symbol:    "WSOL",
		Score:     72.5,
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	resp := postCandidate(t, s, "wrong", validPayload())
	if resp.StatusCode != 401 {
		t.Errorf("expected 401 for bad token, got %d", resp.StatusCode)
	}

	resp = postCandidate(t, s, "", validPayload())
	if resp.StatusCode != 401 {
		t.Errorf("expected 401 for missing token, got %d", resp.StatusCode)
	}
}

func TestServer_EmptyTokenNeverAuthorizes(t *testing.T) {
	// A blank configured token must not mean "no auth".
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "")
	resp := postCandidate(t, s, "", validPayload())
	if resp.StatusCode != 401 {
		t.Errorf("expected 401 with empty configured token, got %d", resp.StatusCode)
	}
}

func TestServer_InsertAndDuplicate(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	resp := postCandidate(t, s, "secret", validPayload())
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201 for first insert, got %d", resp.StatusCode)
	}
	var first map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&first)
	if first["status"] != "created" {
		t.Errorf("expected created, got %v", first["status"])
	}

	resp = postCandidate(t, s, "secret", validPayload())
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for duplicate, got %d", resp.StatusCode)
	}
	var second map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&second)
	if second["status"] != "duplicate" {
		t.Errorf("expected duplicate, got %v", second["status"])
	}
	if first["id"] != second["id"] {
		t.Errorf("duplicate should return original id: %v vs %v", first["id"], second["id"])
	}
}

func TestServer_ValidatesPayload(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	cases := []struct {
		name   string
		mutate func(*CandidatePayload)
	}{
		{"wrong chain", func(p *CandidatePayload) { p.Chain = "ETH" }},
		{"missing source", func(p *CandidatePayload) { p.Source = "" }},
		{"short mint", func(p *CandidatePayload) { p.TokenMint = "abc" }},
		{"score out of range", func(p *CandidatePayload) { p.Score = 150 }},
	}
	for _, tc := range cases {
		p := validPayload()
		tc.mutate(&p)
		resp := postCandidate(t, s, "secret", p)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	limitHit := false
	for i := 0; i < 50; i++ {
		resp := postCandidate(t, s, "secret", validPayload())
		if resp.StatusCode == 429 {
			limitHit = true
			break
		}
	}
	if !limitHit {
		t.Error("rate limit was not hit after 50 rapid requests")
	}
}

func TestServer_EmergencyEndpoint(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	req, _ := http.NewRequest("POST", "/positions/7/emergency", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("expected 503 before SetEmergency, got %d", resp.StatusCode)
	}

	var got int64
	s.SetEmergency(func(ctx context.Context, positionID int64) error {
		got = positionID
		return nil
	}, nil)

	req, _ = http.NewRequest("POST", "/positions/7/emergency", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got != 7 {
		t.Errorf("expected position 7, got %d", got)
	}

	req, _ = http.NewRequest("POST", "/positions/abc/emergency", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, _ = s.app.Test(req, 1000)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestServer_Readyz(t *testing.T) {
	s := NewServer("0.0.0.0", 0, newFakeStore(), nil, "secret")

	req, _ := http.NewRequest("GET", "/readyz", nil)
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("expected 503 without a checker, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", "/healthz", nil)
	resp, err = s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 from healthz, got %d", resp.StatusCode)
	}
}
