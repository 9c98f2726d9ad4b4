package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrDisputeNotFound возвращается, когда спор не найден.
var ErrDisputeNotFound = errors.New("dispute not found")

// ErrMilestoneNotDisputable возвращается, когда веха успела покинуть
// допустимый для спора статус.
var ErrMilestoneNotDisputable = errors.New("milestone not disputable")

// disputeRow — плоская строка таблицы disputes с nullable-колонками
// решения и результата автопроверки.
type disputeRow struct {
	models.Dispute
	ReviewRaw          []byte         `db:"review"`
	ResolutionDecision sql.NullString `db:"resolution_decision"`
	ToFreelancer       sql.NullInt64  `db:"resolution_to_freelancer"`
	ToClient           sql.NullInt64  `db:"resolution_to_client"`
	ResolutionReason   sql.NullString `db:"resolution_reason"`
	DecidedBy          *uuid.UUID     `db:"resolution_decided_by"`
	DecidedAt          *time.Time     `db:"resolution_decided_at"`
}

func (row *disputeRow) toModel() (*models.Dispute, error) {
	d := row.Dispute
	if len(row.ReviewRaw) > 0 {
		var review models.AutoReview
		if err := json.Unmarshal(row.ReviewRaw, &review); err != nil {
			return nil, fmt.Errorf("dispute repository: decode review %w", err)
		}
		d.Review = &review
	}
	// Решение заполняется только у закрытого спора.
	if row.ResolutionDecision.Valid {
		d.Resolution = &models.Resolution{
			Decision:           row.ResolutionDecision.String,
			AmountToFreelancer: row.ToFreelancer.Int64,
			AmountToClient:     row.ToClient.Int64,
			Reason:             row.ResolutionReason.String,
			DecidedBy:          row.DecidedBy,
		}
		if row.DecidedAt != nil {
			d.Resolution.DecidedAt = *row.DecidedAt
		}
	}
	return &d, nil
}

// DisputeRepository отвечает за работу с таблицами disputes и dispute_evidence.
// Запись решения и перевод в resolved выполняет EscrowRepository вместе
// с движением средств.
type DisputeRepository struct {
	db *sqlx.DB
}

// NewDisputeRepository создаёт экземпляр репозитория.
func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create открывает спор в статусе pending_review и переводит веху в
// disputed одной транзакцией. Перевод вехи — CAS по допустимым статусам:
// промах означает, что приёмка успела раньше, и спор не создаётся.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dispute repository: begin tx %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE milestones SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4, $5)
	`, d.MilestoneID, models.MilestoneStatusDisputed,
		models.MilestoneStatusSubmitted, models.MilestoneStatusInProgress, models.MilestoneStatusRevisionRequested)
	if err != nil {
		return fmt.Errorf("dispute repository: mark milestone disputed %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMilestoneNotDisputable
	}

	query := `
		INSERT INTO disputes (project_id, milestone_id, raised_by, reason, status, phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRowxContext(
		ctx, query,
		d.ProjectID, d.MilestoneID, d.RaisedBy, d.Reason, d.Status, d.Phase,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return fmt.Errorf("dispute repository: create %w", err)
	}

	return tx.Commit()
}

// GetByID возвращает спор вместе с материалами, результатом автопроверки
// и решением (если спор закрыт).
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var row disputeRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM disputes WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get by id %w", err)
	}

	d, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &d.Evidence, `
		SELECT * FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at ASC
	`, id); err != nil {
		return nil, fmt.Errorf("dispute repository: load evidence %w", err)
	}

	return d, nil
}

// GetOpenByMilestone возвращает незакрытый спор по вехе, если он есть.
func (r *DisputeRepository) GetOpenByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Dispute, error) {
	var row disputeRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM disputes WHERE milestone_id = $1 AND status != $2
	`, milestoneID, models.DisputeStatusResolved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get open by milestone %w", err)
	}
	return row.toModel()
}

// ListByProject возвращает споры проекта.
func (r *DisputeRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Dispute, error) {
	var rows []disputeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM disputes WHERE project_id = $1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by project %w", err)
	}
	disputes := make([]models.Dispute, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, nil
}

// SaveReview сохраняет результат автоматической проверки спора.
func (r *DisputeRepository) SaveReview(ctx context.Context, id uuid.UUID, review *models.AutoReview) error {
	raw, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("dispute repository: encode review %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET review = $2, updated_at = NOW() WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("dispute repository: save review %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// AdvanceStatus переводит спор из fromStatus в toStatus (CAS по статусу)
// с обновлением фазы и назначенных участников. Возвращает false, если
// спор уже не в fromStatus.
func (r *DisputeRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus, phase string, mediatorID, arbitratorID *uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $3,
		    phase = $4,
		    mediator_id = COALESCE($5, mediator_id),
		    arbitrator_id = COALESCE($6, arbitrator_id),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, fromStatus, toStatus, phase, mediatorID, arbitratorID)
	if err != nil {
		return false, fmt.Errorf("dispute repository: advance status %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddEvidence прикладывает материал к спору.
func (r *DisputeRepository) AddEvidence(ctx context.Context, e *models.DisputeEvidence) error {
	query := `
		INSERT INTO dispute_evidence (dispute_id, submitted_by, description, media_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(
		ctx, query,
		e.DisputeID, e.SubmittedBy, e.Description, e.MediaID,
	).Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("dispute repository: add evidence %w", err)
	}
	return nil
}

// CountByUserSince считает споры, открытые пользователем после указанного
// момента. Используется фрод-скорингом.
func (r *DisputeRepository) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM disputes WHERE raised_by = $1 AND created_at >= $2
	`, userID, since)
	if err != nil {
		return 0, fmt.Errorf("dispute repository: count by user since %w", err)
	}
	return count, nil
}
