package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

type VerificationRequest struct {
	ID              string        `json:"id" db:"id"`
	Status          RequestStatus `json:"status" db:"status"`
	ProgressStep    string        `json:"progress_step" db:"progress_step"`
	TotalEmails     int           `json:"total_emails" db:"total_emails"`
	ProcessedEmails int           `json:"processed_emails" db:"processed_emails"`
	FailureReason   *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ResponseURL     *string       `json:"response_url,omitempty" db:"response_url"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

type VerificationResult struct {
	ID           string      `json:"id" db:"id"`
	RequestID    string      `json:"request_id" db:"request_id"`
	Email        string      `json:"email" db:"email"`
	Status       string      `json:"status" db:"status"`
	Reason       string      `json:"reason,omitempty" db:"reason"`
	Organization string      `json:"organization,omitempty" db:"organization"`
	MXDomain     string      `json:"mx_domain,omitempty" db:"mx_domain"`
	Outcome      OutcomeBlob `json:"outcome,omitempty" db:"outcome"`
	CheckedAt    time.Time   `json:"checked_at" db:"checked_at"`
}

// RequestStatistics aggregates result statuses for one request.
type RequestStatistics struct {
	Total    int `json:"total" db:"total"`
	Valid    int `json:"valid" db:"valid"`
	Invalid  int `json:"invalid" db:"invalid"`
	CatchAll int `json:"catch_all" db:"catch_all"`
	Unknown  int `json:"unknown" db:"unknown"`
}

// CSVUpload is a previously ingested CSV file, its parsed rows stored as
// JSONB. Upload ingestion happens outside this service; verification only
// reads the rows back by upload id.
type CSVUpload struct {
	ID        string    `json:"id" db:"id"`
	Filename  string    `json:"filename" db:"filename"`
	Rows      CSVRows   `json:"rows" db:"rows"`
	RowCount  int       `json:"row_count" db:"row_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CSVRows stores the parsed cells of an uploaded CSV as JSONB.
type CSVRows [][]string

func (r CSVRows) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

func (r *CSVRows) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	return json.Unmarshal(value.([]byte), r)
}

// OutcomeBlob stores the raw probe outcome as JSONB.
type OutcomeBlob map[string]interface{}

func (o OutcomeBlob) Value() (driver.Value, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

func (o *OutcomeBlob) Scan(value interface{}) error {
	if value == nil {
		*o = make(map[string]interface{})
		return nil
	}
	return json.Unmarshal(value.([]byte), o)
}

type ResultFilters struct {
	RequestID string
	Status    string // "valid", "invalid", "catch-all", "unknown", or empty
	Limit     int
	Offset    int
}
