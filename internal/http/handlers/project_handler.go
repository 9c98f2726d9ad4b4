package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// ProjectHandler предоставляет HTTP слой проектов и эскроу-счёта.
type ProjectHandler struct {
	projects *service.ProjectService
	users    actorProvider
}

// NewProjectHandler создаёт хэндлер.
func NewProjectHandler(projects *service.ProjectService, users actorProvider) *ProjectHandler {
	return &ProjectHandler{projects: projects, users: users}
}

// Create обрабатывает POST /projects.
func (h *ProjectHandler) Create(c *gin.Context) {
	actor, err := currentActor(c, h.users)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req dto.CreateProjectRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.Create(c.Request.Context(), actor, service.CreateProjectInput{
		Title:           req.Title,
		Description:     req.Description,
		Budget:          req.Budget,
		Currency:        req.Currency,
		AutoApproveDays: req.AutoApproveDays,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// List обрабатывает GET /projects.
func (h *ProjectHandler) List(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	projects, err := h.projects.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

// Get обрабатывает GET /projects/:id.
func (h *ProjectHandler) Get(c *gin.Context) {
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

	project, err := h.projects.Get(c.Request.Context(), actor, projectID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// Accept обрабатывает POST /projects/:id/accept.
func (h *ProjectHandler) Accept(c *gin.Context) {
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

	project, err := h.projects.Accept(c.Request.Context(), actor, projectID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// FundEscrow обрабатывает POST /projects/:id/escrow/deposit.
func (h *ProjectHandler) FundEscrow(c *gin.Context) {
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

	var req dto.FundEscrowRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	transaction, err := h.projects.FundEscrow(c.Request.Context(), actor, projectID, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.FundEscrowResponse{Transaction: transaction})
}

// Activity обрабатывает GET /projects/:id/activity.
func (h *ProjectHandler) Activity(c *gin.Context) {
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

	limit, offset := common.GetPagination(c)
	entries, err := h.projects.Activity(c.Request.Context(), actor, projectID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// Transactions обрабатывает GET /projects/:id/transactions.
func (h *ProjectHandler) Transactions(c *gin.Context) {
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

	limit, offset := common.GetPagination(c)
	txs, err := h.projects.Transactions(c.Request.Context(), actor, projectID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, txs)
}
