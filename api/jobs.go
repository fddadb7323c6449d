package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/models"
)

// runningCrawler is the subset of BasicCrawler/BrowserCrawler a CrawlJob
// needs. *crawler.BrowserCrawler satisfies it by embedding *BasicCrawler.
type runningCrawler interface {
	Run(ctx context.Context) error
	HandledCount() int
	FailedCount() int
}

// CrawlJob tracks one control-plane crawl from submission to completion.
type CrawlJob struct {
	ID        string
	CreatedAt int64

	mu     sync.Mutex
	status string
	total  int
	err    *models.ErrorDetail

	crawler runningCrawler
	cancel  context.CancelFunc
}

// NewCrawlJobFor wraps a freshly constructed BasicCrawler/BrowserCrawler as
// a trackable CrawlJob, ready to Store and Launch.
func NewCrawlJobFor(id string, crawler runningCrawler, cancel context.CancelFunc) *CrawlJob {
	return &CrawlJob{
		ID:        id,
		CreatedAt: time.Now().Unix(),
		status:    "pending",
		crawler:   crawler,
		cancel:    cancel,
	}
}

func (j *CrawlJob) setStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *CrawlJob) setErr(err *models.ErrorDetail) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

// Snapshot reports the job's current state for the status endpoint.
func (j *CrawlJob) Snapshot() models.CrawlStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.CrawlStatusResponse{
		ID:        j.ID,
		Status:    j.status,
		Handled:   j.crawler.HandledCount(),
		Failed:    j.crawler.FailedCount(),
		Total:     j.total,
		Error:     j.err,
		CreatedAt: j.CreatedAt,
	}
}

// Cancel aborts a running job's crawl by cancelling the context it was
// launched with. It is a no-op when the job has no cancel func.
func (j *CrawlJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// JobStore holds every crawl job this process has started, evicting jobs
// older than jobTTL on a fixed sweep interval — the same shape as the
// teacher's in-memory crawlStore, generalized to a reusable type instead of
// a package-level sync.Map.
type JobStore struct {
	jobs    sync.Map // id -> *CrawlJob
	jobTTL  time.Duration
	sweepWG sync.WaitGroup
	stop    chan struct{}
}

// NewJobStore starts a JobStore whose jobs expire after jobTTL.
func NewJobStore(jobTTL time.Duration) *JobStore {
	if jobTTL <= 0 {
		jobTTL = time.Hour
	}
	s := &JobStore{jobTTL: jobTTL, stop: make(chan struct{})}
	s.sweepWG.Add(1)
	go s.sweep()
	return s
}

func (s *JobStore) sweep() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.jobTTL).Unix()
			s.jobs.Range(func(key, value any) bool {
				job := value.(*CrawlJob)
				job.mu.Lock()
				createdAt := job.CreatedAt
				job.mu.Unlock()
				if createdAt < cutoff {
					s.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// Stop ends the background eviction sweep.
func (s *JobStore) Stop() {
	close(s.stop)
	s.sweepWG.Wait()
}

func (s *JobStore) Store(job *CrawlJob) { s.jobs.Store(job.ID, job) }

// ActiveCount reports how many tracked jobs are currently running.
func (s *JobStore) ActiveCount() int {
	count := 0
	s.jobs.Range(func(_, value any) bool {
		job := value.(*CrawlJob)
		job.mu.Lock()
		if job.status == "running" {
			count++
		}
		job.mu.Unlock()
		return true
	})
	return count
}

func (s *JobStore) Load(id string) (*CrawlJob, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*CrawlJob), true
}

// Launch starts run in the background, recording total and transitioning
// the job's status to "completed" or "failed" once it returns, and emits
// eventbus.CrawlFinished for any subscribed WebhookSink.
func (j *CrawlJob) Launch(ctx context.Context, bus *eventbus.Bus, total int, run func(ctx context.Context) error) {
	j.mu.Lock()
	j.status = "running"
	j.total = total
	j.mu.Unlock()

	go func() {
		err := run(ctx)
		status := "completed"
		if err != nil {
			status = "failed"
			j.setErr(&models.ErrorDetail{Kind: "CRAWL_FAILED", Message: err.Error()})
			slog.Error("crawl job failed", "id", j.ID, "error", err)
		}
		j.setStatus(status)
		if bus != nil {
			bus.Emit(eventbus.CrawlFinished, &eventbus.CrawlFinishedPayload{
				JobID:   j.ID,
				Status:  status,
				Handled: j.crawler.HandledCount(),
				Failed:  j.crawler.FailedCount(),
			})
		}
	}()
}
