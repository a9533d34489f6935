package models

import (
	"encoding/json"
	"time"
)

// Machine-readable error codes. These are stable: agents branch on them
// programmatically instead of parsing prose.
const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeJobNotFound    = "JOB_NOT_FOUND"
	CodeAccessDenied   = "ACCESS_DENIED"
	CodeAlreadyClaimed = "ALREADY_CLAIMED"
	CodeInvalidStatus  = "INVALID_STATUS"
	CodeClaimFailed    = "CLAIM_FAILED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeInternalError  = "INTERNAL_ERROR"
)

// JobSummary is the public view of a training job returned by poll and
// claim. It never carries the job token; the token appears only in the
// top-level field of a successful claim response.
type JobSummary struct {
	ID          string          `json:"id"`
	ModelName   string          `json:"modelName"`
	DatasetPath string          `json:"datasetPath"`
	Config      json.RawMessage `json:"config,omitempty"`
	TotalEpochs int             `json:"totalEpochs"`
	TotalSteps  int             `json:"totalSteps"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PollResponse is returned by GET /agent/poll. Job is null when the queue is
// empty; PollIntervalSeconds tells the agent how long to back off before
// polling again.
type PollResponse struct {
	Job                 *JobSummary `json:"job"`
	PollIntervalSeconds int         `json:"pollIntervalSeconds"`
}

// ClaimResponse is returned by a successful POST /agent/claim/:jobId.
// DatasetURL is a presigned download link for the job's dataset, present only
// when the artifact store is configured.
type ClaimResponse struct {
	Success    bool        `json:"success"`
	JobToken   string      `json:"jobToken"`
	Job        *JobSummary `json:"job"`
	DatasetURL string      `json:"datasetUrl,omitempty"`
}

// ApprovalActionRequest is the body for cancel and reject. Reason is
// required for both actions; Comment is accepted by reject only.
type ApprovalActionRequest struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment,omitempty"`
}

// ApprovalView is the public view of an approval request.
type ApprovalView struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requesterId"`
	ApproverID  string     `json:"approverId"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ApprovalResponse is returned by successful cancel/reject calls.
type ApprovalResponse struct {
	Success  bool          `json:"success"`
	Approval *ApprovalView `json:"approval"`
}
