package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// INTEGRATION TEST SUITE
//
// These tests validate the service end-to-end:
//
//   Client → HTTP API → Auth → Postgres → Queue → Consumer → Snapshot → Read
//
// The service must already be running (for example via docker compose).
//
// Optional environment overrides:
//
//   BASE_URL   default http://localhost:8080
//   OWNER1_KEY default owner-key-123
//   OWNER2_KEY default owner-key-456
//
////////////////////////////////////////////////////////////////////////////////

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// owner1Key returns the default API key for owner1.
func owner1Key() string {
	if v := os.Getenv("OWNER1_KEY"); v != "" {
		return v
	}
	return "owner-key-123"
}

// owner2Key returns the default API key for owner2.
func owner2Key() string {
	if v := os.Getenv("OWNER2_KEY"); v != "" {
		return v
	}
	return "owner-key-456"
}

// unique generates a unique string so tests never collide with previous runs.
func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

////////////////////////////////////////////////////////////////////////////////
// SERVICE READINESS HELPER
//
// waitReady polls /ready until DB + server are ready.
// Prevents flaky failures when containers are still booting.
////////////////////////////////////////////////////////////////////////////////

func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Fatalf("service not ready after 30s")
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

func doJSON(t *testing.T, method, apiKey, path string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}

	req, _ := http.NewRequest(method, baseURL()+path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

// createProduct posts a product and returns its decoded record.
func createProduct(t *testing.T, apiKey, title string) map[string]any {
	t.Helper()

	s, b := doJSON(t, "POST", apiKey, "/products", map[string]any{
		"title": title,
		"price": 9.99,
	})
	if s != http.StatusCreated {
		t.Fatalf("create product expected 201 got %d: %s", s, b)
	}
	var p map[string]any
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("invalid product JSON: %v", err)
	}
	return p
}

// catalogSnapshot fetches the latest snapshot; ok=false when none published.
func catalogSnapshot(t *testing.T, apiKey string) (version int64, payload string, ok bool) {
	t.Helper()

	s, b := doJSON(t, "GET", apiKey, "/catalog", nil)
	if s == http.StatusNotFound {
		return 0, "", false
	}
	if s != http.StatusOK {
		t.Fatalf("catalog expected 200 got %d: %s", s, b)
	}
	var r struct {
		Version int64           `json:"version"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("invalid catalog JSON: %v", err)
	}
	return r.Version, string(r.Payload), true
}

// waitForCatalog polls until the published snapshot satisfies cond.
// The pipeline is asynchronous; freshness arrives within the poll window.
func waitForCatalog(t *testing.T, apiKey string, cond func(version int64, payload string) bool) (int64, string) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	var lastVersion int64
	var lastPayload string
	for time.Now().Before(deadline) {
		v, p, ok := catalogSnapshot(t, apiKey)
		if ok {
			lastVersion, lastPayload = v, p
			if cond(v, p) {
				return v, p
			}
		}
		time.Sleep(300 * time.Millisecond)
	}
	t.Fatalf("catalog condition not met; last version=%d payload=%s", lastVersion, lastPayload)
	return 0, ""
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS TESTS
////////////////////////////////////////////////////////////////////////////////

// Health endpoint = liveness check (server process running).
func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := doJSON(t, "GET", "", "/health", nil)
	if s != http.StatusOK {
		t.Fatalf("health expected 200 got %d", s)
	}
}

// Ready endpoint = dependency readiness (DB reachable).
func TestReady_ReturnsOK(t *testing.T) {
	waitReady(t)
	s, _ := doJSON(t, "GET", "", "/ready", nil)
	if s != http.StatusOK {
		t.Fatalf("ready expected 200 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// API CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Request without API key must be rejected.
func TestProducts_UnauthorizedWithoutAPIKey(t *testing.T) {
	waitReady(t)

	s, _ := doJSON(t, "POST", "", "/products", map[string]any{"title": "x", "price": 1.0})
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// Missing title should return 400.
func TestProducts_BadRequestOnInvalidPayload(t *testing.T) {
	waitReady(t)

	s, _ := doJSON(t, "POST", owner1Key(), "/products", map[string]any{"price": 1.0})
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

// Stale expected version must be rejected with 409.
func TestProducts_VersionConflictOnStaleUpdate(t *testing.T) {
	waitReady(t)

	p := createProduct(t, owner1Key(), unique("conflict"))
	id := p["id"].(string)

	// First update with version 1 succeeds and bumps to version 2.
	title := unique("renamed")
	s, b := doJSON(t, "PUT", owner1Key(), "/products/"+id, map[string]any{
		"title": title, "version": 1,
	})
	if s != http.StatusOK {
		t.Fatalf("update expected 200 got %d: %s", s, b)
	}

	// Re-sending version 1 is now stale.
	s, _ = doJSON(t, "PUT", owner1Key(), "/products/"+id, map[string]any{
		"title": title, "version": 1,
	})
	if s != http.StatusConflict {
		t.Fatalf("expected 409 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PIPELINE BEHAVIOR TESTS
////////////////////////////////////////////////////////////////////////////////

// A committed mutation must surface in a newly published snapshot.
func TestPipeline_MutationReachesSnapshot(t *testing.T) {
	waitReady(t)

	p := createProduct(t, owner1Key(), unique("visible"))
	id := p["id"].(string)

	version, _ := waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, id)
	})
	if version < 1 {
		t.Fatalf("expected version >= 1, got %d", version)
	}
}

// Published versions must only move forward, and a later mutation must land
// in a strictly newer version reflecting both records.
func TestPipeline_VersionsMonotonic(t *testing.T) {
	waitReady(t)

	p1 := createProduct(t, owner1Key(), unique("first"))
	v1, _ := waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, p1["id"].(string))
	})

	p2 := createProduct(t, owner1Key(), unique("second"))
	v2, payload := waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, p2["id"].(string))
	})

	if v2 <= v1 {
		t.Fatalf("versions must strictly increase: first=%d second=%d", v1, v2)
	}
	// The newer snapshot is a full rebuild, so the earlier record is still there.
	if !strings.Contains(payload, p1["id"].(string)) {
		t.Fatal("newer snapshot lost earlier record")
	}
}

// A deletion must disappear from the next published snapshot.
func TestPipeline_DeleteReachesSnapshot(t *testing.T) {
	waitReady(t)

	p := createProduct(t, owner1Key(), unique("doomed"))
	id := p["id"].(string)
	waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, id)
	})

	s, _ := doJSON(t, "DELETE", owner1Key(), "/products/"+id, nil)
	if s != http.StatusNoContent {
		t.Fatalf("delete expected 204 got %d", s)
	}

	waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return !strings.Contains(payload, id)
	})
}

// Each owner must see only its own catalog.
func TestPipeline_OwnerIsolation(t *testing.T) {
	waitReady(t)

	p1 := createProduct(t, owner1Key(), unique("mine"))
	p2 := createProduct(t, owner2Key(), unique("theirs"))

	_, payload1 := waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, p1["id"].(string))
	})
	_, payload2 := waitForCatalog(t, owner2Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, p2["id"].(string))
	})

	if strings.Contains(payload1, p2["id"].(string)) {
		t.Fatal("owner1 snapshot leaked owner2 record")
	}
	if strings.Contains(payload2, p1["id"].(string)) {
		t.Fatal("owner2 snapshot leaked owner1 record")
	}
}

// Categories nest their products in the consolidated document.
func TestPipeline_CategoryNesting(t *testing.T) {
	waitReady(t)

	s, b := doJSON(t, "POST", owner1Key(), "/categories", map[string]any{
		"title": unique("cat"),
	})
	if s != http.StatusCreated {
		t.Fatalf("create category expected 201 got %d: %s", s, b)
	}
	var cat map[string]any
	if err := json.Unmarshal(b, &cat); err != nil {
		t.Fatalf("invalid category JSON: %v", err)
	}
	catID := cat["id"].(string)

	s, b = doJSON(t, "POST", owner1Key(), "/products", map[string]any{
		"title": unique("nested"), "price": 5.0, "category_id": catID,
	})
	if s != http.StatusCreated {
		t.Fatalf("create product expected 201 got %d: %s", s, b)
	}
	var p map[string]any
	_ = json.Unmarshal(b, &p)
	prodID := p["id"].(string)

	_, payload := waitForCatalog(t, owner1Key(), func(v int64, payload string) bool {
		return strings.Contains(payload, catID) && strings.Contains(payload, prodID)
	})

	var doc struct {
		Categories []struct {
			ID       string `json:"id"`
			Products []struct {
				ID string `json:"id"`
			} `json:"products"`
		} `json:"categories"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		t.Fatalf("invalid document payload: %v", err)
	}
	for _, c := range doc.Categories {
		if c.ID != catID {
			continue
		}
		for _, cp := range c.Products {
			if cp.ID == prodID {
				return
			}
		}
	}
	t.Fatal("product not nested under its category")
}
