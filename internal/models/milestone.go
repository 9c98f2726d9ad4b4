package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы вех
const (
	MilestoneStatusPending           = "pending"
	MilestoneStatusInProgress        = "in_progress"
	MilestoneStatusSubmitted         = "submitted"
	MilestoneStatusRevisionRequested = "revision_requested"
	MilestoneStatusApproved          = "approved"
	MilestoneStatusDisputed          = "disputed"
)

// ValidMilestoneStatuses список валидных статусов вех
var ValidMilestoneStatuses = map[string]struct{}{
	MilestoneStatusPending:           {},
	MilestoneStatusInProgress:        {},
	MilestoneStatusSubmitted:         {},
	MilestoneStatusRevisionRequested: {},
	MilestoneStatusApproved:          {},
	MilestoneStatusDisputed:          {},
}

// Milestone описывает веху проекта — единицу работы со своей суммой
// и собственным циклом сдачи/приёмки. Сумма в минорных единицах.
type Milestone struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ProjectID          uuid.UUID  `db:"project_id" json:"project_id"`
	Title              string     `db:"title" json:"title"`
	AcceptanceCriteria string     `db:"acceptance_criteria" json:"acceptance_criteria"`
	Amount             int64      `db:"amount" json:"amount"`
	Currency           string     `db:"currency" json:"currency"`
	Status             string     `db:"status" json:"status"`
	DeadlineAt         *time.Time `db:"deadline_at" json:"deadline_at,omitempty"`
	SubmissionNotes    *string    `db:"submission_notes" json:"submission_notes,omitempty"`
	StartedAt          *time.Time `db:"started_at" json:"started_at,omitempty"`
	SubmittedAt        *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Deliverables []Deliverable     `json:"deliverables,omitempty"`
	Revisions    []RevisionRequest `json:"revisions,omitempty"`
}

// CanBeDisputed отвечает, допускает ли текущий статус открытие спора.
func (m *Milestone) CanBeDisputed() bool {
	switch m.Status {
	case MilestoneStatusSubmitted, MilestoneStatusInProgress, MilestoneStatusRevisionRequested:
		return true
	}
	return false
}

// Deliverable — ссылка на результат работы, приложенный к сдаче вехи.
type Deliverable struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MilestoneID uuid.UUID `db:"milestone_id" json:"milestone_id"`
	MediaID     uuid.UUID `db:"media_id" json:"media_id"`
	Note        *string   `db:"note" json:"note,omitempty"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	Media *MediaFile `json:"media,omitempty"`
}

// RevisionRequest — запрос доработки по вехе.
type RevisionRequest struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MilestoneID uuid.UUID `db:"milestone_id" json:"milestone_id"`
	RequestedBy uuid.UUID `db:"requested_by" json:"requested_by"`
	Notes       string    `db:"notes" json:"notes"`
	RequestedAt time.Time `db:"requested_at" json:"requested_at"`
}
