package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

var (
	// ErrInsufficientEscrow возвращается, когда в эскроу недостаточно средств.
	ErrInsufficientEscrow = errors.New("insufficient escrow funds")
	// ErrAlreadyCommitted возвращается, когда CAS по статусу не прошёл:
	// переход уже зафиксирован конкурентной операцией.
	ErrAlreadyCommitted = errors.New("transition already committed")
)

// EscrowRepository — единица работы для движения средств. Каждый метод
// выполняет изменение эскроу, смену статуса вехи/спора, запись транзакции
// и запись в журнал действий в ОДНОЙ транзакции БД. Строка проекта
// блокируется FOR UPDATE, сериализуя все денежные операции проекта;
// смена статуса вехи с гардом по исходному статусу служит CAS-затвором
// от двойной фиксации.
type EscrowRepository struct {
	db *sqlx.DB
}

// NewEscrowRepository создаёт экземпляр репозитория.
func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Deposit зачисляет средства клиента в эскроу проекта.
func (r *EscrowRepository) Deposit(ctx context.Context, projectID, clientID uuid.UUID, amount int64) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE projects
		SET escrow_held = escrow_held + $2,
		    escrow_remaining = escrow_remaining + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, projectID, amount)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: deposit update %w", err)
	}

	transaction, err := insertTransaction(ctx, tx, &models.Transaction{
		ProjectID:  projectID,
		Type:       models.TransactionTypeDeposit,
		Amount:     amount,
		FromUserID: &clientID,
		Status:     models.TransactionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := appendActivity(ctx, tx, projectID, &clientID, "escrow.deposited", map[string]any{
		"amount":         amount,
		"transaction_id": transaction.ID,
	}); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// ReleaseCommit описывает фиксацию выплаты по вехе.
type ReleaseCommit struct {
	ProjectID   uuid.UUID
	MilestoneID uuid.UUID
	FromStatus  string // исходный статус вехи, CAS-затвор
	Amount      int64  // полная сумма вехи, двигает эскроу
	NetAmount   int64  // сумма выплаты фрилансеру за вычетом комиссии
	ToUserID    uuid.UUID
	ActorID     *uuid.UUID // nil для автоприёмки
	Action      string
}

// CommitRelease фиксирует приёмку вехи: веха -> approved (CAS),
// эскроу released += Amount / remaining -= Amount, транзакция выплаты
// в статусе pending до подтверждения провайдера, запись в журнал.
// Возвращает ErrAlreadyCommitted, если веха уже принята.
func (r *EscrowRepository) CommitRelease(ctx context.Context, c ReleaseCommit) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	remaining, err := lockProjectEscrow(ctx, tx, c.ProjectID)
	if err != nil {
		return nil, err
	}
	if remaining < c.Amount {
		return nil, ErrInsufficientEscrow
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE milestones
		SET status = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, c.MilestoneID, models.MilestoneStatusApproved, c.FromStatus)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: approve milestone %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyCommitted
	}

	if err := moveEscrow(ctx, tx, c.ProjectID, c.Amount); err != nil {
		return nil, err
	}

	transaction, err := insertTransaction(ctx, tx, &models.Transaction{
		ProjectID:   c.ProjectID,
		MilestoneID: &c.MilestoneID,
		Type:        models.TransactionTypeMilestoneRelease,
		Amount:      c.NetAmount,
		ToUserID:    &c.ToUserID,
		Status:      models.TransactionStatusPending,
	})
	if err != nil {
		return nil, err
	}

	if err := appendActivity(ctx, tx, c.ProjectID, c.ActorID, c.Action, map[string]any{
		"milestone_id":   c.MilestoneID,
		"amount":         c.Amount,
		"net_amount":     c.NetAmount,
		"transaction_id": transaction.ID,
	}); err != nil {
		return nil, err
	}

	return transaction, tx.Commit()
}

// CompleteTransaction подтверждает транзакцию после успешного ответа
// провайдера (CAS pending -> completed).
func (r *EscrowRepository) CompleteTransaction(ctx context.Context, transactionID uuid.UUID, providerRef string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, provider_ref = $3, completed_at = NOW()
		WHERE id = $1 AND status = $4
	`, transactionID, models.TransactionStatusCompleted, providerRef, models.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: complete transaction %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// RevertRelease откатывает фиксацию выплаты после отказа провайдера:
// веха возвращается в исходный статус, эскроу восстанавливается,
// транзакция помечается failed с причиной. Леджер снова соответствует
// фактическому состоянию средств у провайдера.
func (r *EscrowRepository) RevertRelease(ctx context.Context, c ReleaseCommit, transactionID uuid.UUID, reason string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, c.ProjectID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE milestones
		SET status = $2, approved_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, c.MilestoneID, c.FromStatus, models.MilestoneStatusApproved)
	if err != nil {
		return fmt.Errorf("escrow repository: revert milestone %w", err)
	}

	if err := moveEscrow(ctx, tx, c.ProjectID, -c.Amount); err != nil {
		return err
	}

	if err := failTransaction(ctx, tx, transactionID, reason); err != nil {
		return err
	}

	if err := appendActivity(ctx, tx, c.ProjectID, nil, "milestone.release_failed", map[string]any{
		"milestone_id":   c.MilestoneID,
		"transaction_id": transactionID,
		"reason":         reason,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// ResolutionCommit описывает фиксацию решения по спору.
type ResolutionCommit struct {
	ProjectID       uuid.UUID
	MilestoneID     uuid.UUID
	DisputeID       uuid.UUID
	Amount          int64 // полная сумма вехи
	Resolution      models.Resolution
	MilestoneStatus string     // статус вехи после решения
	FreelancerID    *uuid.UUID // nil, если доля фрилансера нулевая
	ClientID        uuid.UUID
}

// CommitResolution фиксирует решение по спору одной транзакцией БД:
// спор -> resolved (CAS из любого незакрытого статуса), решение
// записывается в строку спора и далее неизменно, веха переходит в
// целевой статус, эскроу двигается на полную сумму вехи, создаются
// транзакции долей (выплата фрилансеру pending до ответа провайдера,
// возврат клиенту completed — движение со стороны платформы).
func (r *EscrowRepository) CommitResolution(ctx context.Context, c ResolutionCommit) (payment, refund *models.Transaction, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	remaining, err := lockProjectEscrow(ctx, tx, c.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if remaining < c.Amount {
		return nil, nil, ErrInsufficientEscrow
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE disputes
		SET status = $2,
		    resolution_decision = $3,
		    resolution_to_freelancer = $4,
		    resolution_to_client = $5,
		    resolution_reason = $6,
		    resolution_decided_by = $7,
		    resolution_decided_at = NOW(),
		    resolved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status != $2
	`, c.DisputeID, models.DisputeStatusResolved,
		c.Resolution.Decision, c.Resolution.AmountToFreelancer, c.Resolution.AmountToClient,
		c.Resolution.Reason, c.Resolution.DecidedBy)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow repository: resolve dispute %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, ErrAlreadyCommitted
	}

	mres, err := tx.ExecContext(ctx, `
		UPDATE milestones
		SET status = $2, approved_at = CASE WHEN $2 = 'approved' THEN NOW() ELSE approved_at END, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, c.MilestoneID, c.MilestoneStatus, models.MilestoneStatusDisputed)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow repository: advance milestone %w", err)
	}
	// Открытый спор подразумевает веху в disputed; промах означает, что
	// деньги по вехе уже двигались другим путём.
	if n, _ := mres.RowsAffected(); n == 0 {
		return nil, nil, ErrMilestoneNotDisputable
	}

	if err := moveEscrow(ctx, tx, c.ProjectID, c.Amount); err != nil {
		return nil, nil, err
	}

	if c.Resolution.AmountToFreelancer > 0 {
		payment, err = insertTransaction(ctx, tx, &models.Transaction{
			ProjectID:   c.ProjectID,
			MilestoneID: &c.MilestoneID,
			Type:        models.TransactionTypeDisputePayment,
			Amount:      c.Resolution.AmountToFreelancer,
			ToUserID:    c.FreelancerID,
			Status:      models.TransactionStatusPending,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if c.Resolution.AmountToClient > 0 {
		refund, err = insertTransaction(ctx, tx, &models.Transaction{
			ProjectID:   c.ProjectID,
			MilestoneID: &c.MilestoneID,
			Type:        models.TransactionTypeDisputeRefund,
			Amount:      c.Resolution.AmountToClient,
			ToUserID:    &c.ClientID,
			Status:      models.TransactionStatusCompleted,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if err := appendActivity(ctx, tx, c.ProjectID, c.Resolution.DecidedBy, "dispute.resolved", map[string]any{
		"dispute_id":           c.DisputeID,
		"milestone_id":         c.MilestoneID,
		"decision":             c.Resolution.Decision,
		"amount_to_freelancer": c.Resolution.AmountToFreelancer,
		"amount_to_client":     c.Resolution.AmountToClient,
	}); err != nil {
		return nil, nil, err
	}

	return payment, refund, tx.Commit()
}

// RevertPayoutShare откатывает долю фрилансера после отказа провайдера
// по выплате спора. Само решение неизменно: средства возвращаются в
// эскроу до повторной выплаты, транзакция помечается failed.
func (r *EscrowRepository) RevertPayoutShare(ctx context.Context, projectID uuid.UUID, transactionID uuid.UUID, share int64, reason string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return err
	}

	if err := moveEscrow(ctx, tx, projectID, -share); err != nil {
		return err
	}

	if err := failTransaction(ctx, tx, transactionID, reason); err != nil {
		return err
	}

	if err := appendActivity(ctx, tx, projectID, nil, "dispute.payout_failed", map[string]any{
		"transaction_id": transactionID,
		"amount":         share,
		"reason":         reason,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// lockProject блокирует строку проекта на время транзакции.
func lockProject(ctx context.Context, tx *sqlx.Tx, projectID uuid.UUID) error {
	_, err := lockProjectEscrow(ctx, tx, projectID)
	return err
}

// lockProjectEscrow блокирует строку проекта и возвращает остаток эскроу.
func lockProjectEscrow(ctx context.Context, tx *sqlx.Tx, projectID uuid.UUID) (int64, error) {
	var remaining int64
	err := tx.GetContext(ctx, &remaining, `
		SELECT escrow_remaining FROM projects WHERE id = $1 FOR UPDATE
	`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProjectNotFound
		}
		return 0, fmt.Errorf("escrow repository: lock project %w", err)
	}
	return remaining, nil
}

// moveEscrow переносит amount из remaining в released (отрицательный
// amount — обратный перенос при откате).
func moveEscrow(ctx context.Context, tx *sqlx.Tx, projectID uuid.UUID, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET escrow_released = escrow_released + $2,
		    escrow_remaining = escrow_remaining - $2,
		    updated_at = NOW()
		WHERE id = $1
	`, projectID, amount)
	if err != nil {
		return fmt.Errorf("escrow repository: move escrow %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) (*models.Transaction, error) {
	completedAt := "NULL"
	if t.Status == models.TransactionStatusCompleted {
		completedAt = "NOW()"
	}
	query := fmt.Sprintf(`
		INSERT INTO transactions (project_id, milestone_id, type, amount, from_user_id, to_user_id, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, %s)
		RETURNING id, created_at, completed_at
	`, completedAt)
	err := tx.QueryRowxContext(ctx, query,
		t.ProjectID, t.MilestoneID, t.Type, t.Amount, t.FromUserID, t.ToUserID, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: insert transaction %w", err)
	}
	return t, nil
}

func failTransaction(ctx context.Context, tx *sqlx.Tx, transactionID uuid.UUID, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, failure_reason = $3
		WHERE id = $1 AND status = $4
	`, transactionID, models.TransactionStatusFailed, reason, models.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: fail transaction %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func appendActivity(ctx context.Context, tx *sqlx.Tx, projectID uuid.UUID, actorID *uuid.UUID, action string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("escrow repository: marshal activity metadata %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO activity_log (project_id, actor_id, action, metadata)
		VALUES ($1, $2, $3, $4)
	`, projectID, actorID, action, raw)
	if err != nil {
		return fmt.Errorf("escrow repository: append activity %w", err)
	}
	return nil
}
