package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

// Request operations
func (r *Repository) CreateRequest(req *VerificationRequest) error {
	query := `
        INSERT INTO verification_requests (
            id, status, progress_step, total_emails, processed_emails,
            failure_reason, response_url, created_at, updated_at
        ) VALUES (
            :id, :status, :progress_step, :total_emails, :processed_emails,
            :failure_reason, :response_url, :created_at, :updated_at
        )`

	_, err := r.db.NamedExec(query, req)
	return err
}

func (r *Repository) GetRequest(id string) (*VerificationRequest, error) {
	var req VerificationRequest
	query := `SELECT * FROM verification_requests WHERE id = $1`
	err := r.db.Get(&req, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("verification request not found")
	}
	return &req, err
}

func (r *Repository) UpdateRequestProgress(id, step string, processed int) error {
	query := `
        UPDATE verification_requests SET
            status = 'processing',
            progress_step = $2,
            processed_emails = $3,
            updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	_, err := r.db.Exec(query, id, step, processed)
	return err
}

func (r *Repository) MarkRequestCompleted(id string, processed int) error {
	query := `
        UPDATE verification_requests SET
            status = 'completed',
            progress_step = 'complete',
            processed_emails = $2,
            updated_at = NOW(),
            completed_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	_, err := r.db.Exec(query, id, processed)
	return err
}

func (r *Repository) MarkRequestFailed(id, reason string) error {
	query := `
        UPDATE verification_requests SET
            status = 'failed',
            progress_step = 'failed',
            failure_reason = $2,
            updated_at = NOW(),
            completed_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	_, err := r.db.Exec(query, id, reason)
	return err
}

// FailStuckRequests marks requests that have not progressed within the cutoff
// as failed. Returns the ids it touched so the caller can log them.
func (r *Repository) FailStuckRequests(olderThan time.Duration) ([]string, error) {
	ids := []string{}
	query := `
        UPDATE verification_requests SET
            status = 'failed',
            progress_step = 'failed',
            failure_reason = 'timed out waiting for worker',
            updated_at = NOW(),
            completed_at = NOW()
        WHERE status IN ('pending', 'processing')
        AND updated_at < NOW() - ($1 || ' seconds')::interval
        RETURNING id`

	err := r.db.Select(&ids, query, int(olderThan.Seconds()))
	return ids, err
}

// Result operations
func (r *Repository) SaveResults(results []*VerificationResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO verification_results (
            id, request_id, email, status, reason,
            organization, mx_domain, outcome, checked_at
        ) VALUES (
            :id, :request_id, :email, :status, :reason,
            :organization, :mx_domain, :outcome, :checked_at
        )`

	for _, result := range results {
		if _, err := tx.NamedExec(query, result); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetResults(f ResultFilters) ([]*VerificationResult, error) {
	results := []*VerificationResult{}
	args := []interface{}{f.RequestID}
	query := `SELECT * FROM verification_results WHERE request_id = $1`

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY checked_at ASC, email ASC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	err := r.db.Select(&results, query, args...)
	return results, err
}

func (r *Repository) CountResults(requestID, status string) (int, error) {
	var count int
	if status != "" {
		query := `SELECT COUNT(*) FROM verification_results WHERE request_id = $1 AND status = $2`
		err := r.db.Get(&count, query, requestID, status)
		return count, err
	}
	query := `SELECT COUNT(*) FROM verification_results WHERE request_id = $1`
	err := r.db.Get(&count, query, requestID)
	return count, err
}

func (r *Repository) GetRequestStatistics(requestID string) (*RequestStatistics, error) {
	var stats RequestStatistics
	query := `
        SELECT
            COUNT(*) AS total,
            COUNT(*) FILTER (WHERE status = 'valid') AS valid,
            COUNT(*) FILTER (WHERE status = 'invalid') AS invalid,
            COUNT(*) FILTER (WHERE status = 'catch-all') AS catch_all,
            COUNT(*) FILTER (WHERE status = 'unknown') AS unknown
        FROM verification_results
        WHERE request_id = $1`

	err := r.db.Get(&stats, query, requestID)
	return &stats, err
}

// GetCSVUpload loads a previously ingested CSV by upload id, rows included.
func (r *Repository) GetCSVUpload(id string) (*CSVUpload, error) {
	var upload CSVUpload
	query := `SELECT id, filename, rows, row_count, created_at FROM csv_uploads WHERE id = $1`

	err := r.db.Get(&upload, query, id)
	if err != nil {
		return nil, err
	}
	return &upload, nil
}
