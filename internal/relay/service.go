// Package relay manages upload jobs: staging submitted files, driving the
// resumable upload to the remote video host, and tracking each job through
// its lifecycle.
package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/castrelay/castrelay/internal/common"
	"github.com/castrelay/castrelay/internal/storage"
	"github.com/castrelay/castrelay/internal/upload"
	"github.com/castrelay/castrelay/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Submission describes one video relay request.
type Submission struct {
	Title       string
	Description string
	// Tags is a free-text comma-separated list.
	Tags        string
	ContentType string
	// ReplaceID, when set, replaces an existing remote video.
	ReplaceID string
	// HostToken is the caller's bearer token for the remote host. Passed
	// through per job, never persisted.
	HostToken string
	// Content is the video file. It is staged locally before the relay
	// starts so the HTTP request does not have to stay open.
	Content io.Reader
	// WaitForProcessing polls transcoding after the upload and moves the
	// job to ready only once the video is playable.
	WaitForProcessing bool
}

// Service coordinates upload jobs.
type Service struct {
	db      *common.Database
	cache   *common.Cache
	storage storage.BlobStorage
	client  *upload.Client
	// category is assigned to every relayed video
	category string

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a relay service. The cache is optional; without it
// progress snapshots are only persisted on job completion.
func NewService(db *common.Database, cache *common.Cache, blobStorage storage.BlobStorage, client *upload.Client, category string) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		storage:  blobStorage,
		client:   client,
		category: category,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit stages the submitted file, records the job, and starts the relay in
// the background. The returned job is in the pending state.
func (s *Service) Submit(ctx context.Context, ownerID uuid.UUID, sub *Submission) (*types.UploadJob, error) {
	if sub.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if sub.HostToken == "" {
		return nil, fmt.Errorf("host token is required")
	}

	jobID := uuid.New()
	stagingPath := "videos/" + jobID.String()

	size, err := s.storage.Store(ctx, stagingPath, sub.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	job := &types.UploadJob{
		ID:          jobID,
		OwnerID:     ownerID,
		Title:       sub.Title,
		Description: sub.Description,
		Tags:        sub.Tags,
		ContentType: sub.ContentType,
		SizeBytes:   size,
		Status:      types.JobPending,
		StagingPath: stagingPath,
		ReplaceID:   sub.ReplaceID,
	}
	if err := s.db.Create(job).Error; err != nil {
		_ = s.storage.Delete(ctx, stagingPath)
		return nil, fmt.Errorf("failed to record job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	// snapshot before the worker starts mutating the job; the caller's copy
	// stays frozen at the pending state
	snapshot := *job

	s.wg.Add(1)
	go s.runJob(jobCtx, job, sub.HostToken, sub.WaitForProcessing)

	log.Info().
		Str("job_id", jobID.String()).
		Str("title", snapshot.Title).
		Int64("size", size).
		Msg("upload job submitted")

	return &snapshot, nil
}

func (s *Service) runJob(ctx context.Context, job *types.UploadJob, hostToken string, waitForProcessing bool) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
	}()

	s.setStatus(job, types.JobUploading)

	file, err := s.storage.Open(ctx, job.StagingPath)
	if err != nil {
		s.failJob(job, fmt.Sprintf("failed to open staged file: %v", err))
		return
	}
	defer file.Close()

	orchestrator := s.client.NewOrchestrator(upload.OrchestratorConfig{
		Token:             hostToken,
		Content:           file,
		Size:              file.Size(),
		ContentType:       job.ContentType,
		ReplaceID:         job.ReplaceID,
		WaitForProcessing: waitForProcessing,
		Meta: upload.Metadata{
			Title:       job.Title,
			Description: job.Description,
			Tags:        job.Tags,
			CategoryID:  s.category,
		},
		Events: upload.Events{
			OnProgress: func(sent, total int64) {
				job.BytesSent = sent
				if s.cache != nil {
					_ = s.cache.SetProgress(context.Background(), job.ID, &types.JobProgress{
						BytesSent:  sent,
						TotalBytes: total,
						UpdatedAt:  time.Now(),
					})
				}
			},
			OnComplete: func(videoID string) {
				job.VideoID = videoID
				if waitForProcessing {
					s.setStatus(job, types.JobProcessing)
				} else {
					s.setStatus(job, types.JobReady)
				}
			},
			OnError: func(message string) {
				s.failJob(job, message)
			},
			OnStatus: func(u upload.Update) {
				if u.Err != nil {
					return // query errors are retried by the poller
				}
				switch u.Status {
				case upload.StatusUploaded:
					// still transcoding
				case upload.StatusProcessed:
					s.setStatus(job, types.JobReady)
				default:
					s.failJob(job, fmt.Sprintf("transcoding failed with status %q", u.Status))
				}
			},
		},
	})

	if err := orchestrator.Run(ctx); err != nil {
		// cancelled before reaching a terminal state
		if !job.Status.Terminal() {
			s.setStatus(job, types.JobCanceled)
		}
	}

	s.cleanup(job)
}

// Cancel stops an in-flight job. Terminal jobs cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error {
	job, err := s.Get(ctx, jobID, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job is already %s", job.Status)
	}

	s.mu.Lock()
	cancel, running := s.cancels[jobID]
	s.mu.Unlock()

	if running {
		cancel()
		log.Info().Str("job_id", jobID.String()).Msg("upload job cancelled")
		return nil
	}

	// not running anymore (e.g. after a restart); mark it directly
	return s.db.Model(&types.UploadJob{}).
		Where("id = ?", jobID).
		Update("status", types.JobCanceled).Error
}

// Get returns a job owned by ownerID, with live progress merged in when the
// job is still uploading.
func (s *Service) Get(ctx context.Context, jobID, ownerID uuid.UUID) (*types.UploadJob, error) {
	var job types.UploadJob
	if err := s.db.Where("id = ? AND owner_id = ?", jobID, ownerID).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("job not found")
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status == types.JobUploading && s.cache != nil {
		if progress, err := s.cache.GetProgress(ctx, job.ID); err == nil {
			job.BytesSent = progress.BytesSent
		}
	}
	return &job, nil
}

// List returns all jobs owned by ownerID, newest first.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]types.UploadJob, error) {
	var jobs []types.UploadJob
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Wait blocks until all background jobs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every in-flight job and waits for their goroutines to
// finish, bounded by ctx. Cancelled jobs end up in the canceled state with
// their staged files removed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) setStatus(job *types.UploadJob, status types.JobStatus) {
	job.Status = status
	updates := map[string]interface{}{
		"status":     status,
		"video_id":   job.VideoID,
		"bytes_sent": job.BytesSent,
	}
	if err := s.db.Model(&types.UploadJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to update job status")
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("status", string(status)).
		Msg("upload job status changed")
}

func (s *Service) failJob(job *types.UploadJob, message string) {
	job.Error = message
	job.Status = types.JobFailed
	updates := map[string]interface{}{
		"status":     types.JobFailed,
		"error":      message,
		"video_id":   job.VideoID,
		"bytes_sent": job.BytesSent,
	}
	if err := s.db.Model(&types.UploadJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to record job failure")
	}

	log.Warn().
		Str("job_id", job.ID.String()).
		Str("error", message).
		Msg("upload job failed")
}

// cleanup removes the staged file and progress snapshot once a job is done
func (s *Service) cleanup(job *types.UploadJob) {
	ctx, cancelCleanup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCleanup()

	if err := s.storage.Delete(ctx, job.StagingPath); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to remove staged file")
	}
	if s.cache != nil {
		_ = s.cache.ClearProgress(ctx, job.ID)
	}
}
