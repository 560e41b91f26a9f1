package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/metrics"
	"github.com/mxverify/mxverify/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// One collector per test binary; registering twice on the default registry
// panics.
var testCollector = metrics.NewCollector()

type fakeStore struct {
	requests map[string]*db.VerificationRequest
	uploads  map[string]*db.CSVUpload
	results  []db.VerificationResult
	stats    *db.RequestStatistics
	created  []*db.VerificationRequest
}

func (f *fakeStore) Ping() error { return nil }

func (f *fakeStore) CreateRequest(request *db.VerificationRequest) error {
	f.created = append(f.created, request)
	return nil
}

func (f *fakeStore) GetRequest(id string) (*db.VerificationRequest, error) {
	if req, ok := f.requests[id]; ok {
		return req, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) MarkRequestFailed(id, reason string) error { return nil }

func (f *fakeStore) GetResults(filters db.ResultFilters) ([]*db.VerificationResult, error) {
	out := make([]*db.VerificationResult, len(f.results))
	for i := range f.results {
		out[i] = &f.results[i]
	}
	return out, nil
}

func (f *fakeStore) CountResults(requestID, status string) (int, error) {
	return len(f.results), nil
}

func (f *fakeStore) GetRequestStatistics(requestID string) (*db.RequestStatistics, error) {
	return f.stats, nil
}

func (f *fakeStore) GetCSVUpload(id string) (*db.CSVUpload, error) {
	if upload, ok := f.uploads[id]; ok {
		return upload, nil
	}
	return nil, sql.ErrNoRows
}

type fakeQueue struct {
	jobs []*queue.VerificationJob
}

func (f *fakeQueue) Push(ctx context.Context, job *queue.VerificationJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestHandler(store *fakeStore, jobs *fakeQueue) *Handler {
	return NewHandler(store, nil, jobs, nil, nil, testCollector, zap.NewNop(), 0)
}

func postJSON(h gin.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	h(c)
	return w
}

func getWithID(h gin.HandlerFunc, id string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: id}}
	h(c)
	return w
}

func TestGetResultsBeforeCompletion(t *testing.T) {
	id := uuid.New().String()
	store := &fakeStore{
		requests: map[string]*db.VerificationRequest{
			id: {ID: id, Status: db.RequestProcessing, ProgressStep: "processing"},
		},
		// Rows already persisted mid-flight must not leak out as a page.
		results: []db.VerificationResult{{RequestID: id, Email: "a@x.com", Status: "valid"}},
	}
	h := newTestHandler(store, &fakeQueue{})

	w := getWithID(h.GetResults, id)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "processing" {
		t.Errorf("body status = %v, want processing", body["status"])
	}
}

func TestGetResultsWhenCompleted(t *testing.T) {
	id := uuid.New().String()
	store := &fakeStore{
		requests: map[string]*db.VerificationRequest{
			id: {ID: id, Status: db.RequestCompleted, ProgressStep: "complete"},
		},
		results: []db.VerificationResult{
			{RequestID: id, Email: "a@x.com", Status: "valid"},
			{RequestID: id, Email: "b@x.com", Status: "invalid"},
		},
		stats: &db.RequestStatistics{Total: 2, Valid: 1, Invalid: 1},
	}
	h := newTestHandler(store, &fakeQueue{})

	w := getWithID(h.GetResults, id)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Results    []db.VerificationResult `json:"results"`
		Statistics *db.RequestStatistics   `json:"statistics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Results) != 2 {
		t.Errorf("results = %d, want 2", len(body.Results))
	}
	if body.Statistics == nil || body.Statistics.Valid != 1 || body.Statistics.Invalid != 1 {
		t.Errorf("statistics = %+v, want 1 valid / 1 invalid", body.Statistics)
	}
}

func TestVerifyBulkAcceptedPayload(t *testing.T) {
	store := &fakeStore{}
	jobs := &fakeQueue{}
	h := newTestHandler(store, jobs)

	w := postJSON(h.VerifyBulk, VerifyBulkRequest{Emails: []string{"a@x.com", "b@x.com"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	id, _ := body["verification_request_id"].(string)
	if id == "" {
		t.Fatalf("verification_request_id missing from %v", body)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].RequestID != id {
		t.Errorf("enqueued jobs = %+v, want one for %s", jobs.jobs, id)
	}
}

func TestVerifyCSVFromStoredUpload(t *testing.T) {
	uploadID := uuid.New().String()
	store := &fakeStore{
		uploads: map[string]*db.CSVUpload{
			uploadID: {
				ID:       uploadID,
				Filename: "leads.csv",
				Rows: db.CSVRows{
					{"name", "email"},
					{"Alice", "a@x.com"},
					{"Bob", "b@x.com"},
				},
				RowCount: 3,
			},
		},
	}
	jobs := &fakeQueue{}
	h := newTestHandler(store, jobs)

	w := postJSON(h.VerifyCSV, VerifyCSVRequest{CSVUploadID: uploadID, EmailColumnIndex: 1})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if id, _ := body["verification_request_id"].(string); id == "" {
		t.Fatalf("verification_request_id missing from %v", body)
	}

	if len(jobs.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(jobs.jobs))
	}
	want := []string{"a@x.com", "b@x.com"}
	if !reflect.DeepEqual(jobs.jobs[0].Emails, want) {
		t.Errorf("job emails = %v, want %v", jobs.jobs[0].Emails, want)
	}
}

func TestVerifyCSVUnknownUpload(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeQueue{})

	w := postJSON(h.VerifyCSV, VerifyCSVRequest{CSVUploadID: uuid.New().String()})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestVerifyCSVBadColumn(t *testing.T) {
	uploadID := uuid.New().String()
	store := &fakeStore{
		uploads: map[string]*db.CSVUpload{
			uploadID: {ID: uploadID, Rows: db.CSVRows{{"a@x.com"}}, RowCount: 1, CreatedAt: time.Now()},
		},
	}
	h := newTestHandler(store, &fakeQueue{})

	w := postJSON(h.VerifyCSV, VerifyCSVRequest{CSVUploadID: uploadID, EmailColumnIndex: 3})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNormalizeEmails(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "lowercases and trims",
			in:   []string{" Alice@Example.COM ", "bob@example.com"},
			want: []string{"alice@example.com", "bob@example.com"},
		},
		{
			name: "dedupes preserving order",
			in:   []string{"a@x.com", "b@x.com", "A@X.com", "b@x.com"},
			want: []string{"a@x.com", "b@x.com"},
		},
		{
			name: "drops empties",
			in:   []string{"", "  ", "a@x.com"},
			want: []string{"a@x.com"},
		},
		{
			name: "all empty",
			in:   []string{"", "   "},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeEmails(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeEmails(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEmailsFromRows(t *testing.T) {
	t.Run("plain single column", func(t *testing.T) {
		got, err := emailsFromRows([][]string{{"a@x.com"}, {"b@x.com"}}, 0)
		if err != nil {
			t.Fatalf("emailsFromRows: %v", err)
		}
		want := []string{"a@x.com", "b@x.com"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("emails = %v, want %v", got, want)
		}
	})

	t.Run("skips header cell", func(t *testing.T) {
		rows := [][]string{{"name", "Email"}, {"Alice", "a@x.com"}, {"Bob", "b@x.com"}}
		got, err := emailsFromRows(rows, 1)
		if err != nil {
			t.Fatalf("emailsFromRows: %v", err)
		}
		want := []string{"a@x.com", "b@x.com"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("emails = %v, want %v", got, want)
		}
	})

	t.Run("tolerates short rows", func(t *testing.T) {
		rows := [][]string{{"Alice", "a@x.com"}, {"Bob"}, {"Carol", "c@x.com"}}
		got, err := emailsFromRows(rows, 1)
		if err != nil {
			t.Fatalf("emailsFromRows: %v", err)
		}
		want := []string{"a@x.com", "c@x.com"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("emails = %v, want %v", got, want)
		}
	})

	t.Run("column out of range", func(t *testing.T) {
		if _, err := emailsFromRows([][]string{{"a@x.com"}}, 2); err != errBadColumn {
			t.Errorf("err = %v, want errBadColumn", err)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		if _, err := emailsFromRows(nil, 0); err != errCSVEmpty {
			t.Errorf("err = %v, want errCSVEmpty", err)
		}
	})
}
