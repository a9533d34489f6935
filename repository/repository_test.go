package repository

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every goroutine on the same in-memory
	// database and lets the engine serialize concurrent writers.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&config.TrainingJob{}, &config.ApprovalRequest{}, &config.APIKey{}, &config.Session{},
	))

	return NewRepository(db), db
}

func createPendingJob(t *testing.T, repo *Repository, userID string) *config.TrainingJob {
	t.Helper()
	job, err := repo.CreateTrainingJob(userID, "llama-3-8b", "datasets/train.jsonl",
		json.RawMessage(`{"lr":0.0002}`), 3, 1500)
	require.NoError(t, err)
	return job
}

func TestCreateTrainingJob(t *testing.T) {
	repo, _ := newTestRepo(t)

	job := createPendingJob(t, repo, "user-a")

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, config.JobStatusPending, job.Status)
	assert.Nil(t, job.AgentID)
	assert.Nil(t, job.ClaimedAt)
	assert.Contains(t, job.JobToken, "jt_")
	assert.Equal(t, 3, job.TotalEpochs)
}

func TestClaimJob_Success(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	claimed, err := repo.ClaimJob(job.ID, "user-a", "agent_alpha")
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := repo.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusRunning, got.Status)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, "agent_alpha", *got.AgentID)
	assert.NotNil(t, got.ClaimedAt)
	// The token is set at creation and never reissued.
	assert.Equal(t, job.JobToken, got.JobToken)
}

func TestClaimJob_AtMostOneWinner(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	const racers = 8
	results := make([]bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := repo.ClaimJob(job.ID, "user-a", fmt.Sprintf("agent_racer%02d", i))
			assert.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claim must win")
}

func TestClaimJob_RetryAfterLossAlwaysFails(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	claimed, err := repo.ClaimJob(job.ID, "user-a", "agent_alpha")
	require.NoError(t, err)
	require.True(t, claimed)

	// Same agent and a different agent: both lose deterministically.
	for _, agent := range []string{"agent_alpha", "agent_bravo"} {
		claimed, err := repo.ClaimJob(job.ID, "user-a", agent)
		require.NoError(t, err)
		assert.False(t, claimed)
	}

	got, err := repo.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent_alpha", *got.AgentID, "assignment is permanent")
}

func TestClaimJob_ConditionsNotMet(t *testing.T) {
	repo, db := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	claimed, err := repo.ClaimJob("no-such-job", "user-a", "agent_alpha")
	require.NoError(t, err)
	assert.False(t, claimed, "missing job")

	claimed, err = repo.ClaimJob(job.ID, "user-b", "agent_alpha")
	require.NoError(t, err)
	assert.False(t, claimed, "wrong owner")

	require.NoError(t, db.Model(&config.TrainingJob{}).Where("id = ?", job.ID).
		Update("status", config.JobStatusCancelled).Error)
	claimed, err = repo.ClaimJob(job.ID, "user-a", "agent_alpha")
	require.NoError(t, err)
	assert.False(t, claimed, "non-pending status")
}

func TestNextPendingJob_FIFO(t *testing.T) {
	repo, db := newTestRepo(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		job := createPendingJob(t, repo, "user-a")
		require.NoError(t, db.Model(&config.TrainingJob{}).Where("id = ?", job.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
		ids = append(ids, job.ID)
	}

	// Oldest first, and a claimed job drops out of the poll view.
	for _, want := range ids {
		next, err := repo.NextPendingJob("user-a")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, want, next.ID)

		claimed, err := repo.ClaimJob(next.ID, "user-a", "agent_fifo1")
		require.NoError(t, err)
		require.True(t, claimed)
	}

	next, err := repo.NextPendingJob("user-a")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextPendingJob_ScopedToUserAndReadOnly(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	next, err := repo.NextPendingJob("user-b")
	require.NoError(t, err)
	assert.Nil(t, next, "other users' jobs are invisible")

	for i := 0; i < 5; i++ {
		next, err = repo.NextPendingJob("user-a")
		require.NoError(t, err)
		require.NotNil(t, next)
	}

	got, err := repo.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusPending, got.Status)
	assert.Nil(t, got.AgentID)
}

func TestGetJob_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleRunningJobs(t *testing.T) {
	repo, db := newTestRepo(t)

	fresh := createPendingJob(t, repo, "user-a")
	stale := createPendingJob(t, repo, "user-a")
	for _, job := range []*config.TrainingJob{fresh, stale} {
		claimed, err := repo.ClaimJob(job.ID, "user-a", "agent_stale")
		require.NoError(t, err)
		require.True(t, claimed)
	}
	require.NoError(t, db.Model(&config.TrainingJob{}).Where("id = ?", stale.ID).
		Update("claimed_at", time.Now().Add(-2*time.Hour)).Error)

	got, err := repo.StaleRunningJobs(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestResolveApproval(t *testing.T) {
	repo, _ := newTestRepo(t)

	req, err := repo.CreateApproval("user-a", "user-b", "promote checkpoint to prod")
	require.NoError(t, err)
	assert.Equal(t, config.ApprovalStatusPending, req.Status)

	resolved, err := repo.ResolveApproval(req.ID, config.ApprovalStatusRejected, "metrics regressed", "re-run eval")
	require.NoError(t, err)
	assert.Equal(t, config.ApprovalStatusRejected, resolved.Status)
	assert.Equal(t, "metrics regressed", resolved.Reason)
	assert.Equal(t, "re-run eval", resolved.Comment)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestAuthenticateAPIKey(t *testing.T) {
	repo, db := newTestRepo(t)

	raw, err := repo.CreateAPIKey("user-a", []string{"training", "metrics"})
	require.NoError(t, err)
	assert.Contains(t, raw, APIKeyPrefix)

	userID, err := repo.AuthenticateAPIKey(raw, TrainingScope)
	require.NoError(t, err)
	assert.Equal(t, "user-a", userID)

	_, err = repo.AuthenticateAPIKey(raw, "billing")
	assert.ErrorIs(t, err, ErrNotFound, "missing scope")

	_, err = repo.AuthenticateAPIKey("ftl_bogus", TrainingScope)
	assert.ErrorIs(t, err, ErrNotFound, "unknown key")

	require.NoError(t, db.Model(&config.APIKey{}).
		Where("key_hash = ?", HashKey(raw)).Update("revoked", true).Error)
	_, err = repo.AuthenticateAPIKey(raw, TrainingScope)
	assert.ErrorIs(t, err, ErrNotFound, "revoked key")
}

func TestAuthenticateSession(t *testing.T) {
	repo, db := newTestRepo(t)

	token, err := repo.CreateSession("user-a", time.Hour)
	require.NoError(t, err)

	userID, err := repo.AuthenticateSession(token)
	require.NoError(t, err)
	assert.Equal(t, "user-a", userID)

	_, err = repo.AuthenticateSession("sess_bogus")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Model(&config.Session{}).Where("token = ?", token).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)
	_, err = repo.AuthenticateSession(token)
	assert.ErrorIs(t, err, ErrNotFound, "expired session")
}

func TestToSummaryOmitsToken(t *testing.T) {
	repo, _ := newTestRepo(t)
	job := createPendingJob(t, repo, "user-a")

	summary := ToSummary(job)
	payload, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), job.JobToken)
	assert.Equal(t, job.ID, summary.ID)
	assert.Equal(t, "llama-3-8b", summary.ModelName)
}
