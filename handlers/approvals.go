package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
	"github.com/canfieldjuan/finetunelab.ai-sub013/middleware"
	"github.com/canfieldjuan/finetunelab.ai-sub013/models"
	"github.com/canfieldjuan/finetunelab.ai-sub013/repository"
)

// CancelApproval handles POST /approvals/:id/cancel. Only the original
// requester may cancel, and a reason is required. Approvals are rare,
// human-triggered and single-writer, so a permission check before the update
// is enough; no compare-and-swap is needed here.
func (h *Handler) CancelApproval(c *gin.Context) {
	h.transitionApproval(c, config.ApprovalStatusCancelled, func(req *config.ApprovalRequest, actorID string) bool {
		return req.RequesterID == actorID
	})
}

// RejectApproval handles POST /approvals/:id/reject. Only the actor named as
// this request's approver may reject; the capability is read off the request
// row, not a global role.
func (h *Handler) RejectApproval(c *gin.Context) {
	h.transitionApproval(c, config.ApprovalStatusRejected, func(req *config.ApprovalRequest, actorID string) bool {
		return req.ApproverID == actorID
	})
}

func (h *Handler) transitionApproval(c *gin.Context, target string, permitted func(*config.ApprovalRequest, string) bool) {
	id := c.Param("id")
	actorID := middleware.GetUserID(c)

	var body models.ApprovalActionRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "A non-empty reason is required",
			"code":  models.CodeBadRequest,
		})
		return
	}

	req, err := h.store.GetApproval(id)
	if err == repository.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Approval request not found",
			"code":  models.CodeNotFound,
		})
		return
	}
	if err != nil {
		logrus.WithError(err).WithField("approval_id", id).Error("Failed to load approval request")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load approval request",
			"code":  models.CodeInternalError,
		})
		return
	}

	if !permitted(req, actorID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Not permitted to act on this approval request",
			"code":  models.CodeForbidden,
		})
		return
	}

	if req.Status != config.ApprovalStatusPending {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Approval request is already " + req.Status,
			"code":  models.CodeInvalidStatus,
		})
		return
	}

	comment := ""
	if target == config.ApprovalStatusRejected {
		comment = body.Comment
	}

	updated, err := h.store.ResolveApproval(id, target, body.Reason, comment)
	if err != nil {
		logrus.WithError(err).WithField("approval_id", id).Error("Failed to update approval request")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update approval request",
			"code":  models.CodeInternalError,
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"approval_id": id,
		"actor_id":    actorID,
		"status":      target,
	}).Info("Approval request resolved")

	c.JSON(http.StatusOK, models.ApprovalResponse{
		Success:  true,
		Approval: repository.ToApprovalView(updated),
	})
}
