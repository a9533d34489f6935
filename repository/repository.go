package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
	"github.com/canfieldjuan/finetunelab.ai-sub013/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

// APIKeyPrefix marks raw API keys so the authenticator can tell them apart
// from session tokens.
const APIKeyPrefix = "ftl_"

// TrainingScope is the API-key scope required for agent endpoints.
const TrainingScope = "training"

// Repository handles database operations
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTrainingJob inserts a pending job for the upstream submission flow.
// The job id and the secret job token are generated here; the token is never
// reissued.
func (r *Repository) CreateTrainingJob(userID, modelName, datasetPath string, trainConfig json.RawMessage, totalEpochs, totalSteps int) (*config.TrainingJob, error) {
	cfgJSON := "{}"
	if len(trainConfig) > 0 {
		cfgJSON = string(trainConfig)
	}

	now := time.Now()
	job := &config.TrainingJob{
		ID:          uuid.New().String(),
		UserID:      userID,
		ModelName:   modelName,
		DatasetPath: datasetPath,
		Config:      cfgJSON,
		TotalEpochs: totalEpochs,
		TotalSteps:  totalSteps,
		Status:      config.JobStatusPending,
		JobToken:    "jt_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create training job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a training job by ID
func (r *Repository) GetJob(id string) (*config.TrainingJob, error) {
	var job config.TrainingJob
	if err := r.db.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// NextPendingJob returns the oldest unclaimed pending job for the user, or
// nil when the queue is empty. Read-only: FIFO visibility, no reservation.
func (r *Repository) NextPendingJob(userID string) (*config.TrainingJob, error) {
	var job config.TrainingJob
	err := r.db.
		Where("user_id = ? AND status = ? AND agent_id IS NULL", userID, config.JobStatusPending).
		Order("created_at ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob attempts the atomic claim: a single conditional update that moves
// the job to running and assigns the agent only if the row is still pending,
// owned by userID and unassigned. The expected prior state is part of the
// WHERE predicate, so among concurrent claimers at most one update affects a
// row. A false result says nothing about why the claim lost; callers
// disambiguate with a separate read.
func (r *Repository) ClaimJob(jobID, userID, agentID string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&config.TrainingJob{}).
		Where("id = ? AND user_id = ? AND status = ? AND agent_id IS NULL",
			jobID, userID, config.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     config.JobStatusRunning,
			"agent_id":   agentID,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PendingCount reports the depth of the unclaimed queue across all users.
func (r *Repository) PendingCount() (int64, error) {
	var n int64
	err := r.db.Model(&config.TrainingJob{}).
		Where("status = ? AND agent_id IS NULL", config.JobStatusPending).
		Count(&n).Error
	return n, err
}

// StaleRunningJobs lists running jobs claimed before the cutoff. Diagnostic
// only; assignments are never revoked.
func (r *Repository) StaleRunningJobs(cutoff time.Time) ([]config.TrainingJob, error) {
	var jobs []config.TrainingJob
	err := r.db.
		Where("status = ? AND claimed_at < ?", config.JobStatusRunning, cutoff).
		Order("claimed_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateApproval inserts a pending approval request.
func (r *Repository) CreateApproval(requesterID, approverID, summary string) (*config.ApprovalRequest, error) {
	now := time.Now()
	req := &config.ApprovalRequest{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		ApproverID:  approverID,
		Summary:     summary,
		Status:      config.ApprovalStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.Create(req).Error; err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}
	return req, nil
}

// GetApproval retrieves an approval request by ID
func (r *Repository) GetApproval(id string) (*config.ApprovalRequest, error) {
	var req config.ApprovalRequest
	if err := r.db.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ResolveApproval moves an approval request into a terminal state and records
// why. Callers check permissions first; approvals are low-contention
// single-writer updates and need no compare-and-swap.
func (r *Repository) ResolveApproval(id, status, reason, comment string) (*config.ApprovalRequest, error) {
	now := time.Now()
	err := r.db.Model(&config.ApprovalRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"reason":      reason,
			"comment":     comment,
			"resolved_at": now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval request: %w", err)
	}
	return r.GetApproval(id)
}

// CreateAPIKey mints a raw API key for a user, stores only its hash, and
// returns the raw key (shown once).
func (r *Repository) CreateAPIKey(userID string, scopes []string) (string, error) {
	raw := APIKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
	key := &config.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		KeyHash:   HashKey(raw),
		Scopes:    strings.Join(scopes, ","),
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(key).Error; err != nil {
		return "", fmt.Errorf("failed to create api key: %w", err)
	}
	return raw, nil
}

// AuthenticateAPIKey resolves a raw API key to its owning user. The key must
// exist, not be revoked, and carry the required scope.
func (r *Repository) AuthenticateAPIKey(rawKey, requiredScope string) (string, error) {
	var key config.APIKey
	err := r.db.Where("key_hash = ? AND revoked = ?", HashKey(rawKey), false).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if requiredScope != "" && !hasScope(key.Scopes, requiredScope) {
		return "", ErrNotFound
	}
	return key.UserID, nil
}

// CreateSession inserts a session token for a user.
func (r *Repository) CreateSession(userID string, ttl time.Duration) (string, error) {
	sess := &config.Session{
		Token:     "sess_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(sess).Error; err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess.Token, nil
}

// AuthenticateSession resolves an unexpired session token to its user.
func (r *Repository) AuthenticateSession(token string) (string, error) {
	var sess config.Session
	err := r.db.Where("token = ?", token).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(sess.ExpiresAt) {
		return "", ErrNotFound
	}
	return sess.UserID, nil
}

// HashKey returns the sha-256 hex digest stored for an API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hasScope(scopes, want string) bool {
	for _, s := range strings.Split(scopes, ",") {
		if strings.TrimSpace(s) == want {
			return true
		}
	}
	return false
}

// ToSummary converts a database TrainingJob to its public API view. The job
// token is deliberately not part of the summary.
func ToSummary(job *config.TrainingJob) *models.JobSummary {
	return &models.JobSummary{
		ID:          job.ID,
		ModelName:   job.ModelName,
		DatasetPath: job.DatasetPath,
		Config:      json.RawMessage(job.Config),
		TotalEpochs: job.TotalEpochs,
		TotalSteps:  job.TotalSteps,
		Status:      job.Status,
		CreatedAt:   job.CreatedAt,
	}
}

// ToApprovalView converts a database ApprovalRequest to its public API view.
func ToApprovalView(req *config.ApprovalRequest) *models.ApprovalView {
	return &models.ApprovalView{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		ApproverID:  req.ApproverID,
		Summary:     req.Summary,
		Status:      req.Status,
		Reason:      req.Reason,
		Comment:     req.Comment,
		ResolvedAt:  req.ResolvedAt,
		CreatedAt:   req.CreatedAt,
	}
}
