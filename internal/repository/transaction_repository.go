package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrTransactionNotFound возвращается, когда транзакция не найдена.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository отвечает за чтение журнала транзакций.
// Создание и смена статусов происходят только внутри EscrowRepository,
// в одной транзакции БД с движением средств.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository создаёт экземпляр репозитория.
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByID возвращает транзакцию по идентификатору.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("transaction repository: get by id %w", err)
	}
	return &t, nil
}

// ListByProject возвращает транзакции проекта.
func (r *TransactionRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE project_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by project %w", err)
	}
	return transactions, nil
}

// ListByUser возвращает транзакции, где пользователь — отправитель или получатель.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by user %w", err)
	}
	return transactions, nil
}

// CountByUserSince считает транзакции пользователя после указанного момента.
// Используется фрод-скорингом (velocity-сигнал).
func (r *TransactionRepository) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM transactions
		WHERE (from_user_id = $1 OR to_user_id = $1) AND created_at >= $2
	`, userID, since)
	if err != nil {
		return 0, fmt.Errorf("transaction repository: count by user since %w", err)
	}
	return count, nil
}

// AverageAmountByUser возвращает среднюю сумму транзакций пользователя.
func (r *TransactionRepository) AverageAmountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var avg int64
	err := r.db.GetContext(ctx, &avg, `
		SELECT COALESCE(AVG(amount), 0)::BIGINT FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("transaction repository: average amount %w", err)
	}
	return avg, nil
}
