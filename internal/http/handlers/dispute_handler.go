package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// DisputeHandler предоставляет HTTP слой споров: открытие, материалы,
// медиация, арбитраж и исполнение решения.
type DisputeHandler struct {
	disputes *service.DisputeService
	users    actorProvider
}

// NewDisputeHandler создаёт хэндлер.
func NewDisputeHandler(disputes *service.DisputeService, users actorProvider) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, users: users}
}

// Open обрабатывает POST /milestones/:id/disputes.
// После открытия спор уходит на автопроверку в фоне.
func (h *DisputeHandler) Open(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.OpenDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Open(c.Request.Context(), actor, milestoneID, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	disputeID := dispute.ID
	goroutine.SafeGo(func() {
		if err := h.disputes.RunAutoReview(context.Background(), disputeID); err != nil {
			logger.Log.WithError(err).WithField("dispute_id", disputeID).
				Warn("dispute handler: автопроверка не выполнена")
		}
	})

	c.JSON(http.StatusCreated, dispute)
}

// Get обрабатывает GET /disputes/:id.
func (h *DisputeHandler) Get(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Get(c.Request.Context(), actor, disputeID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// ListByProject обрабатывает GET /projects/:id/disputes.
func (h *DisputeHandler) ListByProject(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	disputes, err := h.disputes.ListByProject(c.Request.Context(), actor, projectID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, disputes)
}

// AddEvidence обрабатывает POST /disputes/:id/evidence.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.AddEvidenceRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var mediaID *uuid.UUID
	if req.MediaID != nil {
		parsed, err := uuid.Parse(*req.MediaID)
		if err != nil {
			common.RespondBadRequest(c, "некорректный идентификатор файла")
			return
		}
		mediaID = &parsed
	}

	evidence, err := h.disputes.AddEvidence(c.Request.Context(), actor, disputeID, req.Description, mediaID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, evidence)
}

// AssignMediator обрабатывает POST /disputes/:id/mediator.
func (h *DisputeHandler) AssignMediator(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.AssignMediatorRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	mediatorID, err := uuid.Parse(req.MediatorID)
	if err != nil {
		common.RespondBadRequest(c, "некорректный идентификатор посредника")
		return
	}

	if err := h.disputes.AssignMediator(c.Request.Context(), actor, disputeID, mediatorID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "посредник назначен"})
}

// Escalate обрабатывает POST /disputes/:id/escalate.
func (h *DisputeHandler) Escalate(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.EscalateDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	arbitratorID, err := uuid.Parse(req.ArbitratorID)
	if err != nil {
		common.RespondBadRequest(c, "некорректный идентификатор арбитра")
		return
	}

	if err := h.disputes.Escalate(c.Request.Context(), actor, disputeID, arbitratorID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "спор передан в арбитраж"})
}

// Resolve обрабатывает POST /disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Resolve(c.Request.Context(), actor, disputeID, service.ResolveInput{
		Decision:           req.Decision,
		AmountToFreelancer: req.AmountToFreelancer,
		AmountToClient:     req.AmountToClient,
		Reason:             req.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}
