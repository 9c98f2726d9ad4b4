package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReviewResponse_JSONInMarkdown(t *testing.T) {
	response := "Вот разбор спора:\n```json\n" +
		`{"confidence_score": 0.9, "key_issues": ["сроки"], "decision": "release",
		  "amount_to_freelancer": 5000, "amount_to_client": 0, "reasoning": "критерии выполнены"}` +
		"\n```"

	result, err := parseReviewResponse(response)
	assert.NoError(t, err)
	assert.Equal(t, "release", result.Decision)
	assert.Equal(t, 0.9, result.ConfidenceScore)
	assert.Equal(t, int64(5000), result.AmountToFreelancer)
}

func TestParseReviewResponse_UnknownDecision(t *testing.T) {
	_, err := parseReviewResponse(`{"confidence_score": 0.5, "decision": "escalate"}`)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "неизвестное решение")
}

func TestParseReviewResponse_ConfidenceOutOfRange(t *testing.T) {
	_, err := parseReviewResponse(`{"confidence_score": 1.5, "decision": "refund"}`)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "вне диапазона")
}

func TestNormalizeSplit_ReleaseForcesFullAmount(t *testing.T) {
	result := &ReviewResult{Decision: "release", AmountToFreelancer: 100, AmountToClient: 900}

	err := normalizeSplit(result, 5000)
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), result.AmountToFreelancer)
	assert.Equal(t, int64(0), result.AmountToClient)
}

func TestNormalizeSplit_RefundForcesFullAmount(t *testing.T) {
	result := &ReviewResult{Decision: "refund", AmountToFreelancer: 5000}

	err := normalizeSplit(result, 5000)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), result.AmountToFreelancer)
	assert.Equal(t, int64(5000), result.AmountToClient)
}

func TestNormalizeSplit_ConservingSplitAccepted(t *testing.T) {
	result := &ReviewResult{Decision: "split", AmountToFreelancer: 3000, AmountToClient: 2000}

	err := normalizeSplit(result, 5000)
	assert.NoError(t, err)
	assert.Equal(t, int64(3000), result.AmountToFreelancer)
	assert.Equal(t, int64(2000), result.AmountToClient)
}

func TestNormalizeSplit_NonConservingSplitRejected(t *testing.T) {
	cases := []struct {
		name       string
		freelancer int64
		client     int64
	}{
		{"сумма меньше вехи", 2000, 2000},
		{"сумма больше вехи", 4000, 2000},
		{"отрицательная доля", -1000, 6000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := &ReviewResult{
				Decision:           "split",
				AmountToFreelancer: tc.freelancer,
				AmountToClient:     tc.client,
			}
			err := normalizeSplit(result, 5000)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "не сходятся")
		})
	}
}
