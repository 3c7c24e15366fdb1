package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopreach/social-sync/internal/config"
	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/redis"
)

// jobCredentialRepo is guarded by a mutex because accounts within a provider
// are reconciled concurrently.
type jobCredentialRepo struct {
	mu sync.Mutex

	connected map[model.Provider][]*model.SocialCredential
	listErr   error

	failures     map[string]int
	incErr       error
	disconnected []string
	dcErr        error
}

func newJobCredentialRepo() *jobCredentialRepo {
	return &jobCredentialRepo{
		connected: map[model.Provider][]*model.SocialCredential{},
		failures:  map[string]int{},
	}
}

func (r *jobCredentialRepo) FindByProviderAndUser(ctx context.Context, p model.Provider, userID string) (*model.SocialCredential, error) {
	return nil, nil
}

func (r *jobCredentialRepo) FindByUser(ctx context.Context, userID string) ([]*model.SocialCredential, error) {
	return nil, nil
}

func (r *jobCredentialRepo) ListConnected(ctx context.Context, p model.Provider) ([]*model.SocialCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.connected[p], nil
}

func (r *jobCredentialRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) (*model.SocialCredential, error) {
	return nil, errors.New("not implemented")
}

func (r *jobCredentialRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams) error {
	return nil
}

func (r *jobCredentialRepo) UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error {
	return nil
}

func (r *jobCredentialRepo) SetDisconnected(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dcErr != nil {
		return r.dcErr
	}
	r.disconnected = append(r.disconnected, id)
	return nil
}

func (r *jobCredentialRepo) IncrementRefreshFailures(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incErr != nil {
		return 0, r.incErr
	}
	r.failures[id]++
	return r.failures[id], nil
}

func (r *jobCredentialRepo) ResetRefreshFailures(ctx context.Context, id string) error {
	return nil
}

type accountKey struct {
	provider model.Provider
	userID   string
}

type mockSyncer struct {
	mu     sync.Mutex
	synced []accountKey
	errs   map[accountKey]error
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{errs: map[accountKey]error{}}
}

func (s *mockSyncer) fail(p model.Provider, userID string, err error) {
	s.errs[accountKey{p, userID}] = err
}

func (s *mockSyncer) Sync(ctx context.Context, p model.Provider, userID string) (*model.NormalizedMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey{p, userID}
	s.synced = append(s.synced, key)
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return &model.NormalizedMetrics{Provider: p}, nil
}

func (s *mockSyncer) calls() []accountKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accountKey, len(s.synced))
	copy(out, s.synced)
	return out
}

func connectedCred(id string, p model.Provider, userID string) *model.SocialCredential {
	return &model.SocialCredential{
		ID:        id,
		UserID:    userID,
		Provider:  p,
		Connected: true,
	}
}

func jobConfig() *config.Config {
	return &config.Config{
		ReconcileIntervalHours: 24,
		ReconcileConcurrency:   2,
		DisconnectThreshold:    3,
	}
}

func newTestJob(t *testing.T, creds *jobCredentialRepo, syncer *mockSyncer) (*ReconcileJob, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewReconcileJob(creds, syncer, client, jobConfig()), mr
}

func TestRunOnce(t *testing.T) {
	t.Run("syncs every connected account across providers", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
			connectedCred("c2", model.ProviderYouTube, "user-2"),
		}
		creds.connected[model.ProviderTwitter] = []*model.SocialCredential{
			connectedCred("c3", model.ProviderTwitter, "user-1"),
		}
		syncer := newMockSyncer()
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		calls := syncer.calls()
		assert.Len(t, calls, 3)
		assert.Contains(t, calls, accountKey{model.ProviderYouTube, "user-1"})
		assert.Contains(t, calls, accountKey{model.ProviderYouTube, "user-2"})
		assert.Contains(t, calls, accountKey{model.ProviderTwitter, "user-1"})
	})

	t.Run("one failing account does not stop the rest", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
			connectedCred("c2", model.ProviderYouTube, "user-2"),
			connectedCred("c3", model.ProviderYouTube, "user-3"),
		}
		syncer := newMockSyncer()
		syncer.fail(model.ProviderYouTube, "user-2", apperrors.External("youtube", errors.New("upstream 500")))
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Len(t, syncer.calls(), 3)
		assert.Empty(t, creds.disconnected)
	})

	t.Run("skips when another run holds the lock", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
		}
		syncer := newMockSyncer()
		job, mr := newTestJob(t, creds, syncer)

		require.NoError(t, mr.Set(redis.LockKey("reconcile:run"), "other-run"))
		job.RunOnce(context.Background())

		assert.Empty(t, syncer.calls())
		got, err := mr.Get(redis.LockKey("reconcile:run"))
		require.NoError(t, err)
		assert.Equal(t, "other-run", got)
	})

	t.Run("releases the lock after the run", func(t *testing.T) {
		creds := newJobCredentialRepo()
		syncer := newMockSyncer()
		job, mr := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.False(t, mr.Exists(redis.LockKey("reconcile:run")))
	})

	t.Run("a list failure skips only that provider", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.listErr = errors.New("db unavailable")
		syncer := newMockSyncer()
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Empty(t, syncer.calls())
	})
}

func TestReconcileAccountFailures(t *testing.T) {
	refreshErr := apperrors.ProviderRefreshFailed("youtube", errors.New("invalid_grant"))

	t.Run("counts refresh failures without disconnecting early", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
		}
		syncer := newMockSyncer()
		syncer.fail(model.ProviderYouTube, "user-1", refreshErr)
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Equal(t, 1, creds.failures["c1"])
		assert.Empty(t, creds.disconnected)
	})

	t.Run("disconnects after the failure streak", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.failures["c1"] = 2
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
		}
		syncer := newMockSyncer()
		syncer.fail(model.ProviderYouTube, "user-1", refreshErr)
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Equal(t, 3, creds.failures["c1"])
		assert.Equal(t, []string{"c1"}, creds.disconnected)
	})

	t.Run("rate limits defer without counting as refresh failures", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.connected[model.ProviderInstagram] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderInstagram, "user-1"),
		}
		syncer := newMockSyncer()
		syncer.fail(model.ProviderInstagram, "user-1", apperrors.RateLimited(120))
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Zero(t, creds.failures["c1"])
		assert.Empty(t, creds.disconnected)
	})

	t.Run("a broken failure counter does not disconnect", func(t *testing.T) {
		creds := newJobCredentialRepo()
		creds.incErr = errors.New("update failed")
		creds.connected[model.ProviderYouTube] = []*model.SocialCredential{
			connectedCred("c1", model.ProviderYouTube, "user-1"),
		}
		syncer := newMockSyncer()
		syncer.fail(model.ProviderYouTube, "user-1", refreshErr)
		job, _ := newTestJob(t, creds, syncer)

		job.RunOnce(context.Background())

		assert.Empty(t, creds.disconnected)
	})
}

func TestStartStop(t *testing.T) {
	creds := newJobCredentialRepo()
	job, _ := newTestJob(t, creds, newMockSyncer())

	job.Start()
	time.Sleep(10 * time.Millisecond)
	job.Stop()
}
