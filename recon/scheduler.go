package recon

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// NewClient builds a river client with the reconciliation workers
// registered, running its queue on pool.
func NewClient(pool *pgxpool.Pool, source Source, target Target, log logrus.FieldLogger) (*river.Client[pgx.Tx], error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &AccountSyncWorker{source: source, target: target, log: log}); err != nil {
		return nil, err
	}
	if err := river.AddWorkerSafely(workers, &GrantSyncWorker{source: source, target: target, log: log}); err != nil {
		return nil, err
	}
	if err := river.AddWorkerSafely(workers, &LookupSyncWorker{source: source, target: target, log: log}); err != nil {
		return nil, err
	}
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
	})
}

// Scheduler enqueues reconciliation jobs on a cron schedule. Each tick
// requests changes since the previous tick, with one interval of
// overlap absorbed by idempotent target writes.
type Scheduler struct {
	cron    *cron.Cron
	client  *river.Client[pgx.Tx]
	lookups []string
	log     logrus.FieldLogger

	last time.Time
}

// NewScheduler builds a scheduler over client. The spec is a standard
// cron expression; lookups names the lookup definitions refreshed each
// run.
func NewScheduler(client *river.Client[pgx.Tx], spec string, lookups []string, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron:    cron.New(),
		client:  client,
		lookups: lookups,
		log:     log,
		last:    time.Now().Add(-24 * time.Hour),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling. Stop with Stop.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule; running jobs are unaffected.
func (s *Scheduler) Stop() { s.cron.Stop() }

func (s *Scheduler) tick() {
	ctx := context.Background()
	since := s.last
	s.last = time.Now()

	if _, err := s.client.Insert(ctx, AccountSyncArgs{Since: since}, nil); err != nil {
		s.log.WithError(err).Error("enqueue account sync failed")
	}
	if _, err := s.client.Insert(ctx, GrantSyncArgs{Since: since}, nil); err != nil {
		s.log.WithError(err).Error("enqueue grant sync failed")
	}
	if len(s.lookups) > 0 {
		if _, err := s.client.Insert(ctx, LookupSyncArgs{Names: s.lookups}, nil); err != nil {
			s.log.WithError(err).Error("enqueue lookup sync failed")
		}
	}
}
