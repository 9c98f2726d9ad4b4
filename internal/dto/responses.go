package dto

import (
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AuthResponse — пользователь с парой токенов.
type AuthResponse struct {
	User   *models.User `json:"user"`
	Tokens interface{}  `json:"tokens"`
}

// ApproveMilestoneResponse — принятая веха и проведённая выплата.
// Transaction равен nil при повторной (идемпотентной) приёмке.
type ApproveMilestoneResponse struct {
	Milestone   *models.Milestone   `json:"milestone"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// FundEscrowResponse — транзакция пополнения эскроу.
type FundEscrowResponse struct {
	Transaction *models.Transaction `json:"transaction"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}
