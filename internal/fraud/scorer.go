package fraud

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ignatzorin/escrow-backend/internal/config"
)

// Уровни риска
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Факторы риска. Строки стабильны: на них завязаны журнал действий и политика вызывающих.
const (
	FactorNewAccount          = "recently created account"
	FactorFailedLogins        = "elevated failed login count"
	FactorProjectVelocity     = "high project creation velocity"
	FactorTxVelocity          = "high transaction velocity"
	FactorAmountSpike         = "transaction amount far above average"
	FactorFastDispute         = "dispute filed shortly after submission"
	FactorGenericReason       = "generic dispute reason"
	FactorDisputeFrequency    = "elevated dispute frequency"
)

// Веса сигналов. Сигналы независимы, очки складываются.
const (
	pointsNewAccount       = 20
	pointsFailedLogins     = 15
	pointsProjectVelocity  = 20
	pointsTxVelocity       = 25
	pointsAmountSpike      = 25
	pointsFastDispute      = 20
	pointsGenericReason    = 10
	pointsDisputeFrequency = 20
)

// genericReasonWords — малоинформативные формулировки причин спора.
var genericReasonWords = []string{
	"плохо", "не нравится", "не устраивает", "обман", "верните деньги",
	"bad", "scam", "refund", "not good", "terrible",
}

// Input — снимок истории пользователя, по которому считается риск.
// Скоринг — чистая функция: сбор данных лежит на вызывающем.
type Input struct {
	AccountCreatedAt  time.Time
	FailedLoginCount  int
	ProjectsLast7d    int
	TxLast24h         int
	LastTxAmount      int64 // 0 — сигнал не оценивается
	AvgTxAmount       int64
	DisputeDelay      *time.Duration // время от сдачи вехи до подачи спора
	DisputeReason     string
	DisputesLast30d   int
	Now               time.Time
}

// Assessment — результат фрод-скоринга.
type Assessment struct {
	RiskScore   int      `json:"risk_score"`
	RiskLevel   string   `json:"risk_level"`
	RiskFactors []string `json:"risk_factors"`
}

// Exceeds отвечает, достиг ли уровень оценки заданного уровня политики.
func (a Assessment) Exceeds(level string) bool {
	return levelRank(a.RiskLevel) >= levelRank(level)
}

func levelRank(level string) int {
	switch level {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// Score считает риск по независимым сигналам и настраиваемой политике.
// Сама по себе оценка ничего не блокирует — политику применяет вызывающий.
func Score(in Input, policy config.FraudPolicy) Assessment {
	var score int
	var factors []string

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	if !in.AccountCreatedAt.IsZero() && now.Sub(in.AccountCreatedAt) < policy.NewAccountAge {
		score += pointsNewAccount
		factors = append(factors, FactorNewAccount)
	}

	if in.FailedLoginCount >= policy.FailedLoginThreshold {
		score += pointsFailedLogins
		factors = append(factors, FactorFailedLogins)
	}

	if in.ProjectsLast7d > policy.ProjectVelocity7d {
		score += pointsProjectVelocity
		factors = append(factors, FactorProjectVelocity)
	}

	if in.TxLast24h > policy.TxVelocity24h {
		score += pointsTxVelocity
		factors = append(factors, FactorTxVelocity)
	}

	if in.LastTxAmount > 0 && in.AvgTxAmount > 0 &&
		in.LastTxAmount > in.AvgTxAmount*policy.AmountSpikeMultiplier {
		score += pointsAmountSpike
		factors = append(factors, FactorAmountSpike)
	}

	if in.DisputeDelay != nil && *in.DisputeDelay >= 0 && *in.DisputeDelay < policy.FastDisputeWindow {
		score += pointsFastDispute
		factors = append(factors, FactorFastDispute)
	}

	if in.DisputeReason != "" && isGenericReason(in.DisputeReason, policy.MinReasonLength) {
		score += pointsGenericReason
		factors = append(factors, FactorGenericReason)
	}

	if in.DisputesLast30d > policy.DisputeFrequency30d {
		score += pointsDisputeFrequency
		factors = append(factors, FactorDisputeFrequency)
	}

	return Assessment{
		RiskScore:   score,
		RiskLevel:   levelFor(score, policy),
		RiskFactors: factors,
	}
}

// levelFor переводит суммарный балл в уровень по фиксированным точкам отсечения.
func levelFor(score int, policy config.FraudPolicy) string {
	switch {
	case score >= policy.CriticalScore:
		return LevelCritical
	case score >= policy.HighScore:
		return LevelHigh
	case score >= policy.MediumScore:
		return LevelMedium
	default:
		return LevelLow
	}
}

// isGenericReason определяет малоинформативную причину спора:
// слишком короткий текст либо дежурная формулировка из словаря.
func isGenericReason(reason string, minLength int) bool {
	trimmed := strings.TrimSpace(strings.ToLower(reason))
	if utf8.RuneCountInString(trimmed) < minLength {
		return true
	}
	for _, word := range genericReasonWords {
		if trimmed == word {
			return true
		}
	}
	return false
}
