package ingest

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Lister enumerates container blobs for rescans.
type Lister interface {
	ListNames(ctx context.Context) (map[string]map[string]string, error)
}

// Scheduler rescans the container on a cron schedule and queues any blob that
// has not been indexed yet. A redis lock keeps replicas from double-scanning.
type Scheduler struct {
	lister    Lister
	publisher *Publisher
	rdb       *redis.Client
	cron      string
	logger    *log.Logger

	lastRun time.Time
	stop    chan struct{}
}

// NewScheduler builds the rescan scheduler.
func NewScheduler(lister Lister, publisher *Publisher, rdb *redis.Client, cron string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{
		lister:    lister,
		publisher: publisher,
		rdb:       rdb,
		cron:      cron,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start ticks once a minute in the background.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
}

// Stop halts the background loop.
func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) tick(ctx context.Context) {
	if !isDue(s.cron, s.lastRun, time.Now()) {
		return
	}
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, "docchat:sched:rescan", "1", 2*time.Minute).Result()
		if err != nil {
			s.logger.Printf("rescan lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.rdb.Del(ctx, "docchat:sched:rescan")
	}
	s.lastRun = time.Now()
	queued, err := s.Rescan(ctx)
	if err != nil {
		s.logger.Printf("rescan: %v", err)
		return
	}
	if queued > 0 {
		s.logger.Printf("rescan queued %d blobs", queued)
	}
}

// Rescan queues every blob that does not carry the indexed marker.
func (s *Scheduler) Rescan(ctx context.Context) (int, error) {
	blobs, err := s.lister.ListNames(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for name, meta := range blobs {
		if meta["embeddings_added"] == "true" {
			continue
		}
		if _, err := s.publisher.Publish(ctx, Event{EventType: EventBlobUploaded, BlobName: name}); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// isDue reports whether the cron schedule has a firing between last and now.
// An empty schedule disables rescans; an unparseable one falls back to daily.
func isDue(cronSpec string, last, now time.Time) bool {
	if cronSpec == "" {
		return false
	}
	if last.IsZero() {
		return true
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return now.Sub(last) >= 24*time.Hour
	}
	next := expr.Next(last)
	return !next.IsZero() && !next.After(now)
}
