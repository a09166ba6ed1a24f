package replays

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/livesession"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/pkg/queue"
	"github.com/tutorhall/backend/pkg/storage"
)

// Processor executes replay upload jobs: download the artifact from the
// provider URL, stream it to S3, mark the replay ready and advance the
// session to replay_ready (which notifies the audience).
type Processor struct {
	repo     *Repository
	sessions *livesession.Service
	s3       *storage.S3
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewProcessor creates a replay upload processor.
func NewProcessor(repo *Repository, sessions *livesession.Service, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{repo: repo, sessions: sessions, s3: s3, queue: q, logger: logger}
}

// Process executes one replay upload job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReplayUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReplayUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rep, err := p.repo.GetByID(ctx, payload.ReplayID)
	if err != nil {
		return fmt.Errorf("load replay: %w", err)
	}
	if rep == nil {
		return fmt.Errorf("replay not found: %s", payload.ReplayID)
	}
	if rep.Status == models.ReplayStatusReady {
		p.logger.Info("replay already ready", zap.String("replay_id", rep.ID.String()))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.OriginalURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.ReplayKey(payload.CourseID.String(), payload.ReplayID.String())
	s3URL, err := p.s3.Upload(ctx, p.s3.ReplaysBucket(), key, contentType, resp.Body)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.repo.MarkReady(ctx, payload.ReplayID, s3URL, key, resp.ContentLength); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if err := p.sessions.MarkReplayReady(ctx, payload.SessionID, payload.ReplayID, s3URL); err != nil {
		p.logger.Warn("session replay transition failed", zap.Error(err), zap.String("session_id", payload.SessionID.String()))
	}

	p.logger.Info("replay upload completed",
		zap.String("replay_id", payload.ReplayID.String()),
		zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. Jobs that
// exhaust their retries mark the replay failed and land in the DLQ.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("replay worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			exhausted, reErr := p.queue.Retry(ctx, job)
			if reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if exhausted {
				var payload queue.ReplayUploadPayload
				if json.Unmarshal(job.Payload, &payload) == nil {
					_ = p.repo.MarkFailed(ctx, payload.ReplayID)
				}
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
