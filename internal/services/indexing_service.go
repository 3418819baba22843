package services

import (
	"context"
	"errors"
	"time"

	"github.com/t2t2-app/t2t2/internal/core/cache"
	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/models"
)

// ErrIndexingInProgress is returned when the user already has a running job.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// jobTimeout bounds a single background indexing run.
const jobTimeout = 2 * time.Hour

// JobStore is the slice of persistence the indexing path needs.
type JobStore interface {
	ListMessagesForUser(ctx context.Context, userID string, chatIDs []int64) ([]models.Message, error)
	CreateIndexJob(ctx context.Context, job *models.IndexJob) error
	UpdateIndexJob(ctx context.Context, job *models.IndexJob) error
	LatestIndexJob(ctx context.Context, userID string) (*models.IndexJob, error)
}

// IndexingStatus merges the persisted job record with cached progress.
type IndexingStatus struct {
	Status          string  `json:"status"` // idle, pending, running, completed, failed
	TotalMessages   int     `json:"total_messages"`
	EmbeddedChunks  int     `json:"embedded_chunks"`
	TotalChunks     int     `json:"total_chunks"`
	ProcessedChunks int     `json:"processed_chunks"`
	Progress        float64 `json:"progress"`
	Error           string  `json:"error,omitempty"`
}

// IndexingService runs fire-and-forget embedding jobs. A job is an explicit
// persisted record polled via Status; there is no cancellation, a started
// job runs to completion or failure.
type IndexingService struct {
	store    JobStore
	cache    cache.ProgressCache
	embedSvc *EmbeddingService
	log      *logger.Logger
}

func NewIndexingService(store JobStore, progressCache cache.ProgressCache, embedSvc *EmbeddingService, log *logger.Logger) *IndexingService {
	return &IndexingService{store: store, cache: progressCache, embedSvc: embedSvc, log: log}
}

// StartIndexing creates a job record and launches the background run. At
// most one job may be pending or running per user; within a run, the
// per-(message, chunk) uniqueness of embeddings still bounds duplicate work.
func (s *IndexingService) StartIndexing(ctx context.Context, userID string, chatIDs []int64) (*models.IndexJob, error) {
	latest, err := s.store.LatestIndexJob(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if latest != nil && (latest.Status == models.JobPending || latest.Status == models.JobRunning) {
		return nil, ErrIndexingInProgress
	}

	job := &models.IndexJob{
		UserID:  userID,
		Status:  models.JobPending,
		ChatIDs: chatIDs,
	}
	if err := s.store.CreateIndexJob(ctx, job); err != nil {
		return nil, err
	}

	_ = s.cache.SetProgress(ctx, userID, models.IndexProgress{Status: models.JobPending})

	// Fire and forget: the job outlives the request, so it gets its own
	// context rather than the request's.
	go s.run(*job)

	return job, nil
}

func (s *IndexingService) run(job models.IndexJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log := s.log.With("job_id", job.ID, "user_id", job.UserID)

	job.Status = models.JobRunning
	if err := s.store.UpdateIndexJob(ctx, &job); err != nil {
		log.Error("failed to mark job running", "error", err)
		return
	}
	_ = s.cache.SetProgress(ctx, job.UserID, models.IndexProgress{Status: models.JobRunning})

	messages, err := s.store.ListMessagesForUser(ctx, job.UserID, job.ChatIDs)
	if err != nil {
		s.finish(ctx, &job, 0, err)
		return
	}
	job.TotalMessages = len(messages)

	embedded, err := s.embedSvc.EmbedMessagesBatch(ctx, messages, func(processed, total int) {
		_ = s.cache.SetProgress(ctx, job.UserID, models.IndexProgress{
			Status:          models.JobRunning,
			TotalChunks:     total,
			ProcessedChunks: processed,
		})
	})
	s.finish(ctx, &job, embedded, err)
}

func (s *IndexingService) finish(ctx context.Context, job *models.IndexJob, embedded int, err error) {
	log := s.log.With("job_id", job.ID, "user_id", job.UserID)

	job.EmbeddedChunks = embedded
	if err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
		log.Error("indexing job failed", "error", err)
	} else {
		job.Status = models.JobCompleted
		log.Info("indexing job completed", "messages", job.TotalMessages, "embedded", embedded)
	}

	if uerr := s.store.UpdateIndexJob(ctx, job); uerr != nil {
		log.Error("failed to persist job result", "error", uerr)
	}
	_ = s.cache.SetProgress(ctx, job.UserID, models.IndexProgress{
		Status:          job.Status,
		ProcessedChunks: embedded,
		TotalChunks:     embedded,
	})
}

// Status reports the latest job merged with cached per-chunk progress.
func (s *IndexingService) Status(ctx context.Context, userID string) (*IndexingStatus, error) {
	job, err := s.store.LatestIndexJob(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return &IndexingStatus{Status: "idle"}, nil
	}
	if err != nil {
		return nil, err
	}

	st := &IndexingStatus{
		Status:         job.Status,
		TotalMessages:  job.TotalMessages,
		EmbeddedChunks: job.EmbeddedChunks,
		Error:          job.Error,
	}

	if p, err := s.cache.GetProgress(ctx, userID); err == nil {
		st.TotalChunks = p.TotalChunks
		st.ProcessedChunks = p.ProcessedChunks
	}
	if st.TotalChunks > 0 {
		st.Progress = float64(st.ProcessedChunks) / float64(st.TotalChunks)
	} else if job.Status == models.JobCompleted {
		st.Progress = 1
	}
	return st, nil
}
