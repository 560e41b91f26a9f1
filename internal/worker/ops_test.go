package worker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/learning"
	"github.com/mxverify/mxverify/internal/probe"
)

func TestOpsRouterServesLearningSnapshot(t *testing.T) {
	store := learning.NewStore(nil)
	store.RecordOutcome("yahoo.com",
		classify.Classification{Organization: "yahoo", ProcessingProfile: "yahoo_throttled"},
		&probe.Outcome{HostExists: true, Deliverable: true},
	)

	router := NewOpsRouter(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/learning", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Domains []learning.Stats `json:"domains"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Domains) != 1 || body.Domains[0].MXDomain != "yahoo.com" {
		t.Errorf("snapshot = %+v, want one yahoo.com entry", body.Domains)
	}
	if body.Domains[0].Attempts != 1 || body.Domains[0].Successes != 1 {
		t.Errorf("counters = %+v, want 1 attempt / 1 success", body.Domains[0])
	}
}

func TestOpsRouterServesMetrics(t *testing.T) {
	router := NewOpsRouter(learning.NewStore(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
