package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
	"github.com/canfieldjuan/finetunelab.ai-sub013/middleware"
	"github.com/canfieldjuan/finetunelab.ai-sub013/models"
	"github.com/canfieldjuan/finetunelab.ai-sub013/repository"
	"github.com/canfieldjuan/finetunelab.ai-sub013/storage"
)

// Store is the job-store surface the handlers depend on.
// *repository.Repository satisfies it; tests substitute fakes.
type Store interface {
	NextPendingJob(userID string) (*config.TrainingJob, error)
	ClaimJob(jobID, userID, agentID string) (bool, error)
	GetJob(id string) (*config.TrainingJob, error)
	GetApproval(id string) (*config.ApprovalRequest, error)
	ResolveApproval(id, status, reason, comment string) (*config.ApprovalRequest, error)
}

// Handler handles HTTP requests
type Handler struct {
	store               Store
	datasets            *storage.DatasetStore // nil when no artifact store is configured
	pollIntervalSeconds int
}

// NewHandler creates a new handler instance
func NewHandler(store Store, datasets *storage.DatasetStore, pollIntervalSeconds int) *Handler {
	return &Handler{
		store:               store,
		datasets:            datasets,
		pollIntervalSeconds: pollIntervalSeconds,
	}
}

// Poll handles GET /agent/poll. It returns the oldest unclaimed pending job
// for the authenticated user, or a null job with the recommended poll
// interval when the queue is empty. Strictly read-only: visibility of a job
// here is advisory and grants no reservation.
func (h *Handler) Poll(c *gin.Context) {
	userID := middleware.GetUserID(c)

	job, err := h.store.NextPendingJob(userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to query pending jobs")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to query pending jobs",
			"code":  models.CodeInternalError,
		})
		return
	}

	resp := models.PollResponse{PollIntervalSeconds: h.pollIntervalSeconds}
	if job != nil {
		resp.Job = repository.ToSummary(job)
	}
	c.JSON(http.StatusOK, resp)
}

// Claim handles POST /agent/claim/:jobId. The claim itself is a single
// conditional update; when it affects no row, a best-effort diagnostic read
// explains why. That read can itself be stale, which only costs
// error-message precision, never correctness.
func (h *Handler) Claim(c *gin.Context) {
	jobID := c.Param("jobId")
	userID := middleware.GetUserID(c)
	agentID := middleware.GetAgentID(c)

	log := logrus.WithFields(logrus.Fields{
		"job_id":   jobID,
		"user_id":  userID,
		"agent_id": agentID,
	})

	claimed, err := h.store.ClaimJob(jobID, userID, agentID)
	if err != nil {
		log.WithError(err).Error("Claim update failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to claim job",
			"code":    models.CodeInternalError,
		})
		return
	}

	if !claimed {
		h.explainFailedClaim(c, log, jobID, userID)
		return
	}

	job, err := h.store.GetJob(jobID)
	if err != nil {
		log.WithError(err).Error("Failed to load job after claim")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to load claimed job",
			"code":    models.CodeInternalError,
		})
		return
	}

	resp := models.ClaimResponse{
		Success:  true,
		JobToken: job.JobToken,
		Job:      repository.ToSummary(job),
	}
	if h.datasets != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		url, err := h.datasets.PresignDataset(ctx, job.DatasetPath)
		if err != nil {
			// The claim already succeeded; the agent can still fetch the
			// dataset through its own credentials.
			log.WithError(err).Warn("Failed to presign dataset URL")
		} else {
			resp.DatasetURL = url
		}
	}

	log.Info("Job claimed")
	c.JSON(http.StatusOK, resp)
}

// explainFailedClaim runs the diagnostic read after a lost claim and maps
// the row's current state to a machine-readable code. Checked in order:
// existence, ownership, assignment, status.
func (h *Handler) explainFailedClaim(c *gin.Context, log *logrus.Entry, jobID, userID string) {
	job, err := h.store.GetJob(jobID)
	switch {
	case err == repository.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Training job not found",
			"code":    models.CodeJobNotFound,
		})
	case err != nil:
		// Diagnosis failed; degrade to the generic code rather than crash.
		log.WithError(err).Error("Claim diagnostic read failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Claim failed",
			"code":    models.CodeClaimFailed,
		})
	case job.UserID != userID:
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Access denied to job owned by another user",
			"code":    models.CodeAccessDenied,
		})
	case job.AgentID != nil:
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Job is already claimed by agent " + *job.AgentID,
			"code":    models.CodeAlreadyClaimed,
		})
	case job.Status != config.JobStatusPending:
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Job is not claimable in status " + job.Status,
			"code":    models.CodeInvalidStatus,
		})
	default:
		// The row mutated between the claim attempt and this read.
		log.Warn("Claim lost but job looks claimable on re-read")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Claim failed",
			"code":    models.CodeClaimFailed,
		})
	}
}
