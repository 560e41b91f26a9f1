package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/dispatch"
	"github.com/mxverify/mxverify/internal/metrics"
	"github.com/mxverify/mxverify/internal/probe"
	"github.com/mxverify/mxverify/internal/queue"
	"github.com/mxverify/mxverify/internal/storage/redis"
)

// Runner consumes verification jobs from the queue and drives them through
// the dispatcher. It owns the request's terminal state: a request becomes
// completed only after its results are durably saved.
type Runner struct {
	queue       *queue.RedisQueue
	repo        *db.Repository
	cache       *redis.Client
	dispatcher  *dispatch.Dispatcher
	metrics     *metrics.Collector
	logger      *zap.Logger
	workerCount int
	popTimeout  time.Duration
	httpClient  *http.Client
}

func NewRunner(
	q *queue.RedisQueue,
	repo *db.Repository,
	cache *redis.Client,
	d *dispatch.Dispatcher,
	collector *metrics.Collector,
	logger *zap.Logger,
	workerCount int,
	popTimeout time.Duration,
) *Runner {
	if workerCount <= 0 {
		workerCount = 4
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &Runner{
		queue:       q,
		repo:        repo,
		cache:       cache,
		dispatcher:  d,
		metrics:     collector,
		logger:      logger,
		workerCount: workerCount,
		popTimeout:  popTimeout,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting worker pool", zap.Int("worker_count", r.workerCount))

	var wg sync.WaitGroup
	for i := 0; i < r.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.popLoop(ctx, id)
		}(i)
	}

	// Report queue depth while the pool runs.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := r.queue.Length(ctx); err == nil {
					r.metrics.SetQueueDepth(depth)
				}
			}
		}
	}()

	wg.Wait()
	r.logger.Info("Worker pool stopped")
}

func (r *Runner) popLoop(ctx context.Context, id int) {
	logger := r.logger.With(zap.Int("worker_id", id))
	logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		default:
		}

		job, err := r.queue.Pop(ctx, r.popTimeout)
		if err == queue.ErrTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Worker stopped")
				return
			}
			logger.Error("Failed to pop job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		r.process(ctx, logger, job)
	}
}

func (r *Runner) process(ctx context.Context, logger *zap.Logger, job *queue.VerificationJob) {
	start := time.Now()
	logger.Info("Processing verification request",
		zap.String("request_id", job.RequestID),
		zap.Int("emails", len(job.Emails)),
	)

	if err := r.repo.UpdateRequestProgress(job.RequestID, string(dispatch.StepProcessing), 0); err != nil {
		logger.Error("Failed to mark request processing",
			zap.String("request_id", job.RequestID),
			zap.Error(err),
		)
	}

	prog := dispatch.NewProgress()

	// Mirror live progress into the request row so status polling shows the
	// anti-greylisting step while rechecks wait out their backoff.
	mirrorCtx, stopMirror := context.WithCancel(ctx)
	go r.mirrorProgress(mirrorCtx, job.RequestID, prog)

	results, err := r.dispatcher.Process(ctx, job.RequestID, job.Emails, prog)
	stopMirror()
	if err != nil {
		r.fail(logger, job, start, err)
		return
	}

	rows := make([]*db.VerificationResult, len(results))
	now := time.Now()
	for i, res := range results {
		rows[i] = &db.VerificationResult{
			ID:           uuid.New().String(),
			RequestID:    job.RequestID,
			Email:        res.Email,
			Status:       string(res.Status),
			Reason:       res.Reason,
			Organization: res.Organization,
			MXDomain:     res.MXDomain,
			Outcome:      outcomeBlob(res.Outcome),
			CheckedAt:    now,
		}
	}

	if err := r.repo.SaveResults(rows); err != nil {
		r.fail(logger, job, start, fmt.Errorf("failed to save results: %w", err))
		return
	}

	// Results are durable, the request may now complete.
	if err := prog.Advance(dispatch.StepComplete); err != nil {
		logger.Warn("Progress already terminal",
			zap.String("request_id", job.RequestID),
			zap.Error(err),
		)
	}
	if err := r.repo.MarkRequestCompleted(job.RequestID, len(results)); err != nil {
		logger.Error("Failed to mark request completed",
			zap.String("request_id", job.RequestID),
			zap.Error(err),
		)
		return
	}
	r.invalidateStatus(job.RequestID)
	r.metrics.RecordRequestFinished("completed", len(results), time.Since(start))

	logger.Info("Verification request completed",
		zap.String("request_id", job.RequestID),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	if job.ResponseURL != "" {
		r.postCallback(ctx, logger, job, results)
	}
}

func (r *Runner) mirrorProgress(ctx context.Context, requestID string, prog *dispatch.Progress) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastStep := dispatch.StepReceived
	lastProcessed := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step := prog.Step()
			processed := prog.Processed()
			if (step == lastStep && processed == lastProcessed) || step.Terminal() {
				continue
			}
			lastStep = step
			lastProcessed = processed
			if err := r.repo.UpdateRequestProgress(requestID, string(step), processed); err != nil {
				r.logger.Debug("Failed to mirror progress step",
					zap.String("request_id", requestID),
					zap.Error(err),
				)
			}
			r.invalidateStatus(requestID)
		}
	}
}

func (r *Runner) fail(logger *zap.Logger, job *queue.VerificationJob, start time.Time, err error) {
	logger.Error("Verification request failed",
		zap.String("request_id", job.RequestID),
		zap.Error(err),
	)

	if dberr := r.repo.MarkRequestFailed(job.RequestID, err.Error()); dberr != nil {
		logger.Error("Failed to mark request failed",
			zap.String("request_id", job.RequestID),
			zap.Error(dberr),
		)
	}
	r.invalidateStatus(job.RequestID)
	r.metrics.RecordRequestFinished("failed", len(job.Emails), time.Since(start))
}

func (r *Runner) invalidateStatus(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.cache.InvalidateRequestStatus(ctx, requestID); err != nil {
		r.logger.Debug("Failed to invalidate cached status",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// postCallback delivers the finished results to the submitter's webhook.
// Delivery is best effort, the results stay available for polling regardless.
func (r *Runner) postCallback(ctx context.Context, logger *zap.Logger, job *queue.VerificationJob, results []dispatch.Result) {
	payload := map[string]interface{}{
		"request_id": job.RequestID,
		"status":     "completed",
		"statistics": dispatch.Summarize(results),
		"results":    results,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal callback payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.ResponseURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("Failed to build callback request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logger.Warn("Callback delivery failed",
			zap.String("request_id", job.RequestID),
			zap.String("response_url", job.ResponseURL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Warn("Callback rejected",
			zap.String("request_id", job.RequestID),
			zap.Int("status", resp.StatusCode),
		)
	}
}

func outcomeBlob(o *probe.Outcome) db.OutcomeBlob {
	if o == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
