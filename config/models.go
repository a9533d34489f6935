package config

import (
	"time"
)

// Job lifecycle statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Approval request statuses.
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusCancelled = "cancelled"
)

// TrainingJob represents a fine-tuning job in the database.
// AgentID stays null until a claim succeeds; the claim sets AgentID, ClaimedAt
// and Status in a single conditional update, so there is never a window where
// the job is running but unassigned.
type TrainingJob struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	ModelName   string
	DatasetPath string
	Config      string `gorm:"type:jsonb"` // free-form training configuration
	TotalEpochs int
	TotalSteps  int
	Status      string  `gorm:"index"`
	AgentID     *string `gorm:"index"`
	ClaimedAt   *time.Time
	JobToken    string    // disclosed only once, on successful claim
	CreatedAt   time.Time `gorm:"index"` // FIFO ordering key for polling
	UpdatedAt   time.Time
}

// TableName overrides the table name
func (TrainingJob) TableName() string {
	return "training_jobs"
}

// ApprovalRequest represents a human approval request. ApproverID is the
// per-request capability: only that actor may reject, and only RequesterID
// may cancel.
type ApprovalRequest struct {
	ID          string `gorm:"primaryKey"`
	RequesterID string `gorm:"index"`
	ApproverID  string `gorm:"index"`
	Summary     string `gorm:"type:text"`
	Status      string `gorm:"index"`
	Reason      string `gorm:"type:text"`
	Comment     string `gorm:"type:text"`
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the table name
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// APIKey stores a hashed bearer key. Scopes is comma-separated; agent
// endpoints require the "training" scope.
type APIKey struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	KeyHash   string `gorm:"uniqueIndex"` // sha-256 hex of the raw key
	Scopes    string
	Revoked   bool
	CreatedAt time.Time
}

// TableName overrides the table name
func (APIKey) TableName() string {
	return "api_keys"
}

// Session is a logged-in user's bearer token.
type Session struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TableName overrides the table name
func (Session) TableName() string {
	return "sessions"
}
