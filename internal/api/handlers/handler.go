package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/db"
	"github.com/mxverify/mxverify/internal/dispatch"
	"github.com/mxverify/mxverify/internal/metrics"
	"github.com/mxverify/mxverify/internal/queue"
	"github.com/mxverify/mxverify/internal/storage/redis"
)

// Store is the slice of the repository the HTTP layer needs. *db.Repository
// satisfies it; tests swap in a fake.
type Store interface {
	Ping() error
	CreateRequest(request *db.VerificationRequest) error
	GetRequest(id string) (*db.VerificationRequest, error)
	MarkRequestFailed(id, reason string) error
	GetResults(filters db.ResultFilters) ([]*db.VerificationResult, error)
	CountResults(requestID, status string) (int, error)
	GetRequestStatistics(requestID string) (*db.RequestStatistics, error)
	GetCSVUpload(id string) (*db.CSVUpload, error)
}

// JobQueue hands accepted work to the worker pool.
type JobQueue interface {
	Push(ctx context.Context, job *queue.VerificationJob) error
}

type Handler struct {
	repo       Store
	cache      *redis.Client
	jobs       JobQueue
	resolver   dispatch.Resolver
	classifier *classify.Classifier
	metrics    *metrics.Collector
	logger     *zap.Logger
	maxEmails  int
}

func NewHandler(
	repo Store,
	cache *redis.Client,
	jobs JobQueue,
	resolver dispatch.Resolver,
	classifier *classify.Classifier,
	collector *metrics.Collector,
	logger *zap.Logger,
	maxEmails int,
) *Handler {
	if maxEmails <= 0 {
		maxEmails = 10000
	}
	return &Handler{
		repo:       repo,
		cache:      cache,
		jobs:       jobs,
		resolver:   resolver,
		classifier: classifier,
		metrics:    collector,
		logger:     logger,
		maxEmails:  maxEmails,
	}
}
