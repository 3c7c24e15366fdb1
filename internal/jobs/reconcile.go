// Package jobs holds the scheduled reconciliation run that keeps every
// connected account's token fresh and its metrics current.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/redis"
	"github.com/loopreach/social-sync/internal/repository"
)

// AccountSyncer runs the refresh-then-sync sequence for one account.
// Satisfied by *service.MetricsService.
type AccountSyncer interface {
	Sync(ctx context.Context, p model.Provider, userID string) (*model.NormalizedMetrics, error)
}

// releaseScript frees the run lock only if this run still owns it.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const reconcileLockName = "reconcile:run"

// ReconcileJob walks every connected account across all providers once per
// interval. Accounts within a provider are processed with bounded
// concurrency; each account's refresh-then-sync sequence runs in order
// relative to itself, and failures never cross account boundaries.
type ReconcileJob struct {
	creds               repository.CredentialRepository
	syncer              AccountSyncer
	redis               *goredis.Client
	interval            time.Duration
	concurrency         int
	disconnectThreshold int
	done                chan struct{}
}

func NewReconcileJob(
	creds repository.CredentialRepository,
	syncer AccountSyncer,
	redisClient *goredis.Client,
	cfg *config.Config,
) *ReconcileJob {
	concurrency := cfg.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ReconcileJob{
		creds:               creds,
		syncer:              syncer,
		redis:               redisClient,
		interval:            cfg.ReconcileInterval(),
		concurrency:         concurrency,
		disconnectThreshold: cfg.DisconnectThreshold,
		done:                make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), config.ReconcileRunTimeout)
			j.RunOnce(ctx)
			cancel()
		}
	}
}

// RunOnce executes a full reconciliation pass. A redis lock keeps concurrent
// instances from double-running; losing the race is not an error. Re-running
// an already-synced account just re-fetches and overwrites its metrics.
func (j *ReconcileJob) RunOnce(ctx context.Context) {
	runID := uuid.NewString()

	acquired, err := j.redis.SetNX(ctx, redis.LockKey(reconcileLockName), runID, config.ReconcileRunTimeout).Result()
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire reconcile lock")
		return
	}
	if !acquired {
		log.Info().Msg("reconcile already running elsewhere, skipping")
		return
	}
	defer func() {
		if err := releaseScript.Run(ctx, j.redis, []string{redis.LockKey(reconcileLockName)}, runID).Err(); err != nil && err != goredis.Nil {
			log.Warn().Err(err).Msg("failed to release reconcile lock")
		}
	}()

	start := time.Now()
	log.Info().Str("runId", runID).Msg("reconcile run started")

	for _, p := range model.Providers {
		j.reconcileProvider(ctx, p)
	}

	log.Info().Str("runId", runID).Dur("took", time.Since(start)).Msg("reconcile run finished")
}

func (j *ReconcileJob) reconcileProvider(ctx context.Context, p model.Provider) {
	creds, err := j.creds.ListConnected(ctx, p)
	if err != nil {
		log.Error().Err(err).Str("provider", p.String()).Msg("failed to list connected accounts")
		return
	}
	if len(creds) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, j.concurrency)
		mu     sync.Mutex
		synced int
		failed int
	)
	for _, cred := range creds {
		wg.Add(1)
		sem <- struct{}{}
		go func(cred *model.SocialCredential) {
			defer wg.Done()
			defer func() { <-sem }()

			err := j.reconcileAccount(ctx, cred)
			mu.Lock()
			if err != nil {
				failed++
			} else {
				synced++
			}
			mu.Unlock()
		}(cred)
	}
	wg.Wait()

	log.Info().
		Str("provider", p.String()).
		Int("accounts", len(creds)).
		Int("synced", synced).
		Int("failed", failed).
		Msg("provider reconciled")
}

// reconcileAccount runs refresh-then-sync for one account. Refresh and sync
// are independent stages: a refreshed token is persisted even when the
// metrics call after it fails.
func (j *ReconcileJob) reconcileAccount(ctx context.Context, cred *model.SocialCredential) error {
	_, err := j.syncer.Sync(ctx, cred.Provider, cred.UserID)
	if err == nil {
		return nil
	}

	evt := log.Warn().
		Err(err).
		Str("provider", cred.Provider.String()).
		Str("userId", cred.UserID)

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeProviderRefreshFailed:
		// The account stays connected through transient provider outages and
		// is retried next run; only a streak of failed refreshes disconnects.
		failures, incErr := j.creds.IncrementRefreshFailures(ctx, cred.ID)
		if incErr != nil {
			log.Error().Err(incErr).Str("credentialId", cred.ID).Msg("failed to record refresh failure")
			evt.Msg("token refresh failed, skipping account this run")
			return err
		}
		if failures >= j.disconnectThreshold {
			if dcErr := j.creds.SetDisconnected(ctx, cred.ID); dcErr != nil {
				log.Error().Err(dcErr).Str("credentialId", cred.ID).Msg("failed to disconnect account")
			} else {
				evt.Int("failures", failures).Msg("refresh failure threshold reached, account disconnected")
				return err
			}
		}
		evt.Int("failures", failures).Msg("token refresh failed, skipping account this run")
	case apperrors.ErrCodeRateLimited:
		evt.Msg("provider rate limited, deferring to next run")
	default:
		evt.Msg("metrics sync failed")
	}
	return err
}
