package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы споров
const (
	DisputeStatusPendingReview = "pending_review"
	DisputeStatusInMediation   = "in_mediation"
	DisputeStatusInArbitration = "in_arbitration"
	DisputeStatusResolved      = "resolved"
	DisputeStatusEscalated     = "escalated"
)

// Фазы разрешения спора
const (
	DisputePhaseAutoReview  = "auto_review"
	DisputePhaseMediation   = "mediation"
	DisputePhaseArbitration = "arbitration"
)

// Решения по спору
const (
	ResolutionDecisionRelease = "release"
	ResolutionDecisionRefund  = "refund"
	ResolutionDecisionSplit   = "split"
)

// Dispute — спор по вехе. У вехи может быть не более одного
// незакрытого (не resolved) спора одновременно.
type Dispute struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ProjectID    uuid.UUID  `db:"project_id" json:"project_id"`
	MilestoneID  uuid.UUID  `db:"milestone_id" json:"milestone_id"`
	RaisedBy     uuid.UUID  `db:"raised_by" json:"raised_by"`
	Reason       string     `db:"reason" json:"reason"`
	Status       string     `db:"status" json:"status"`
	Phase        string     `db:"phase" json:"phase"`
	MediatorID   *uuid.UUID `db:"mediator_id" json:"mediator_id,omitempty"`
	ArbitratorID *uuid.UUID `db:"arbitrator_id" json:"arbitrator_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`

	Evidence   []DisputeEvidence `json:"evidence,omitempty"`
	Review     *AutoReview       `json:"review,omitempty"`
	Resolution *Resolution       `json:"resolution,omitempty"`
}

// IsOpen отвечает, не закрыт ли спор.
func (d *Dispute) IsOpen() bool {
	return d.Status != DisputeStatusResolved
}

// DisputeEvidence — материал, приложенный к спору.
type DisputeEvidence struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	DisputeID   uuid.UUID  `db:"dispute_id" json:"dispute_id"`
	SubmittedBy uuid.UUID  `db:"submitted_by" json:"submitted_by"`
	Description string     `db:"description" json:"description"`
	MediaID     *uuid.UUID `db:"media_id" json:"media_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// AutoReview — результат автоматической проверки спора.
type AutoReview struct {
	ConfidenceScore float64  `json:"confidence_score"`
	KeyIssues       []string `json:"key_issues"`
	Recommended     Split    `json:"recommended_resolution"`
	Reasoning       string   `json:"reasoning"`
}

// Split — предлагаемое или итоговое распределение суммы вехи.
type Split struct {
	Decision           string `json:"decision"`
	AmountToFreelancer int64  `json:"amount_to_freelancer"`
	AmountToClient     int64  `json:"amount_to_client"`
}

// Resolution — итоговое решение по спору. Существует только у спора
// в статусе resolved и после записи неизменно.
// Инвариант: AmountToFreelancer + AmountToClient == сумма вехи.
type Resolution struct {
	Decision           string     `db:"resolution_decision" json:"decision"`
	AmountToFreelancer int64      `db:"resolution_to_freelancer" json:"amount_to_freelancer"`
	AmountToClient     int64      `db:"resolution_to_client" json:"amount_to_client"`
	Reason             string     `db:"resolution_reason" json:"reason"`
	DecidedBy          *uuid.UUID `db:"resolution_decided_by" json:"decided_by,omitempty"`
	DecidedAt          time.Time  `db:"resolution_decided_at" json:"decided_at"`
}
