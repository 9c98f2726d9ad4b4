package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// MilestoneHandler предоставляет HTTP слой цикла жизни вехи.
type MilestoneHandler struct {
	milestones *service.MilestoneService
	users      actorProvider
}

// NewMilestoneHandler создаёт хэндлер.
func NewMilestoneHandler(milestones *service.MilestoneService, users actorProvider) *MilestoneHandler {
	return &MilestoneHandler{milestones: milestones, users: users}
}

// Create обрабатывает POST /projects/:id/milestones.
func (h *MilestoneHandler) Create(c *gin.Context) {
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

	var req dto.CreateMilestoneRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	m, err := h.milestones.Create(c.Request.Context(), actor, projectID, service.CreateMilestoneInput{
		Title:              req.Title,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Amount:             req.Amount,
		DeadlineAt:         req.DeadlineAt,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

// ListByProject обрабатывает GET /projects/:id/milestones.
func (h *MilestoneHandler) ListByProject(c *gin.Context) {
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

	milestones, err := h.milestones.ListByProject(c.Request.Context(), actor, projectID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, milestones)
}

// Get обрабатывает GET /milestones/:id.
func (h *MilestoneHandler) Get(c *gin.Context) {
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

	m, err := h.milestones.Get(c.Request.Context(), actor, milestoneID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// Start обрабатывает POST /milestones/:id/start.
func (h *MilestoneHandler) Start(c *gin.Context) {
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

	m, err := h.milestones.Start(c.Request.Context(), actor, milestoneID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// Submit обрабатывает POST /milestones/:id/submit.
func (h *MilestoneHandler) Submit(c *gin.Context) {
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

	var req dto.SubmitMilestoneRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deliverables := make([]service.DeliverableInput, 0, len(req.Deliverables))
	for _, d := range req.Deliverables {
		mediaID, err := uuid.Parse(d.MediaID)
		if err != nil {
			common.RespondBadRequest(c, "некорректный идентификатор файла результата")
			return
		}
		deliverables = append(deliverables, service.DeliverableInput{
			MediaID: mediaID,
			Note:    d.Note,
		})
	}

	m, err := h.milestones.Submit(c.Request.Context(), actor, milestoneID, req.Notes, deliverables)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// Approve обрабатывает POST /milestones/:id/approve.
func (h *MilestoneHandler) Approve(c *gin.Context) {
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

	m, transaction, err := h.milestones.Approve(c.Request.Context(), actor, milestoneID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ApproveMilestoneResponse{
		Milestone:   m,
		Transaction: transaction,
	})
}

// RequestRevision обрабатывает POST /milestones/:id/revision.
func (h *MilestoneHandler) RequestRevision(c *gin.Context) {
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

	var req dto.RequestRevisionRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	m, err := h.milestones.RequestRevision(c.Request.Context(), actor, milestoneID, req.Notes)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, m)
}
