package fraud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/config"
)

func testPolicy() config.FraudPolicy {
	return config.FraudPolicy{
		NewAccountAge:         7 * 24 * time.Hour,
		FailedLoginThreshold:  5,
		ProjectVelocity7d:     5,
		TxVelocity24h:         10,
		AmountSpikeMultiplier: 5,
		FastDisputeWindow:     10 * time.Minute,
		MinReasonLength:       40,
		DisputeFrequency30d:   3,
		MediumScore:           25,
		HighScore:             50,
		CriticalScore:         75,
	}
}

func TestScore_CleanHistory(t *testing.T) {
	now := time.Now()
	in := Input{
		AccountCreatedAt: now.Add(-365 * 24 * time.Hour),
		FailedLoginCount: 0,
		TxLast24h:        2,
		Now:              now,
	}

	a := Score(in, testPolicy())
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, LevelLow, a.RiskLevel)
	assert.Empty(t, a.RiskFactors)
}

func TestScore_HighTransactionVelocity(t *testing.T) {
	now := time.Now()
	in := Input{
		AccountCreatedAt: now.Add(-365 * 24 * time.Hour),
		TxLast24h:        20,
		Now:              now,
	}

	a := Score(in, testPolicy())
	assert.Contains(t, a.RiskFactors, "high transaction velocity")
	assert.GreaterOrEqual(t, a.RiskScore, testPolicy().MediumScore)
	assert.Equal(t, LevelMedium, a.RiskLevel)
}

func TestScore_SignalsAreAdditive(t *testing.T) {
	now := time.Now()
	delay := 2 * time.Minute
	in := Input{
		AccountCreatedAt: now.Add(-24 * time.Hour), // свежий аккаунт
		FailedLoginCount: 7,
		TxLast24h:        15,
		DisputeDelay:     &delay,
		DisputeReason:    "обман",
		DisputesLast30d:  5,
		Now:              now,
	}

	a := Score(in, testPolicy())
	// 20 + 15 + 25 + 20 + 10 + 20
	assert.Equal(t, 110, a.RiskScore)
	assert.Equal(t, LevelCritical, a.RiskLevel)
	assert.Len(t, a.RiskFactors, 6)
}

func TestScore_AmountSpike(t *testing.T) {
	now := time.Now()
	in := Input{
		AccountCreatedAt: now.Add(-365 * 24 * time.Hour),
		LastTxAmount:     600_000,
		AvgTxAmount:      10_000,
		Now:              now,
	}

	a := Score(in, testPolicy())
	assert.Contains(t, a.RiskFactors, FactorAmountSpike)
	assert.Equal(t, LevelMedium, a.RiskLevel)
}

func TestScore_GenericReasonByLength(t *testing.T) {
	now := time.Now()
	in := Input{
		AccountCreatedAt: now.Add(-365 * 24 * time.Hour),
		DisputeReason:    "плохая работа",
		Now:              now,
	}

	a := Score(in, testPolicy())
	assert.Contains(t, a.RiskFactors, FactorGenericReason)
	// одного слабого сигнала недостаточно для medium
	assert.Equal(t, LevelLow, a.RiskLevel)
}

func TestScore_DetailedReasonNotGeneric(t *testing.T) {
	now := time.Now()
	in := Input{
		AccountCreatedAt: now.Add(-365 * 24 * time.Hour),
		DisputeReason:    "Сданная веха не соответствует критериям приёмки: не реализованы пункты 2 и 3 технического задания, вёрстка расходится с макетом.",
		Now:              now,
	}

	a := Score(in, testPolicy())
	assert.NotContains(t, a.RiskFactors, FactorGenericReason)
}

func TestAssessment_Exceeds(t *testing.T) {
	a := Assessment{RiskLevel: LevelHigh}
	assert.True(t, a.Exceeds(LevelMedium))
	assert.True(t, a.Exceeds(LevelHigh))
	assert.False(t, a.Exceeds(LevelCritical))
}
