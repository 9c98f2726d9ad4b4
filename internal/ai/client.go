package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// Client реализует автоматическую проверку споров через OpenAI-совместимый API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL, model string) *Client {
	apiKey := os.Getenv("AI_API_KEY")

	if model == "" {
		model = "grok-4.1-fast:free"
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Configured отвечает, задан ли адрес сервиса.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// DisputeContext — входные данные для автоматической проверки спора.
type DisputeContext struct {
	Reason             string
	MilestoneTitle     string
	AcceptanceCriteria string
	SubmissionNotes    string
	Amount             int64
	Currency           string
	RevisionCount      int
	Evidence           []string
}

// ReviewResult — разбор спора: уверенность модели, ключевые претензии и
// рекомендуемое распределение суммы вехи.
type ReviewResult struct {
	ConfidenceScore    float64  `json:"confidence_score"`
	KeyIssues          []string `json:"key_issues"`
	Decision           string   `json:"decision"`
	AmountToFreelancer int64    `json:"amount_to_freelancer"`
	AmountToClient     int64    `json:"amount_to_client"`
	Reasoning          string   `json:"reasoning"`
}

// ReviewDispute запрашивает у модели разбор спора. Ответ модели приводится
// к распределению, сохраняющему сумму вехи: при расхождении доли
// пересчитываются от доли фрилансера.
func (c *Client) ReviewDispute(ctx context.Context, dc DisputeContext) (*ReviewResult, error) {
	system := "Ты — арбитр эскроу-платформы. Разбери спор по вехе проекта и верни строго JSON с полями: " +
		"confidence_score (0..1), key_issues (массив строк), decision (release|refund|split), " +
		"amount_to_freelancer, amount_to_client (в минорных единицах, в сумме равны сумме вехи), reasoning."

	user := fmt.Sprintf(
		"Веха: %s\nКритерии приёмки: %s\nСумма: %d %s\nЗаметки к сдаче: %s\nДоработок запрошено: %d\nПричина спора: %s",
		dc.MilestoneTitle, dc.AcceptanceCriteria, dc.Amount, dc.Currency, dc.SubmissionNotes, dc.RevisionCount, dc.Reason,
	)
	if len(dc.Evidence) > 0 {
		user += "\nМатериалы сторон:\n- " + strings.Join(dc.Evidence, "\n- ")
	}

	response, err := c.chatCompletion(ctx, []map[string]string{
		{"role": "system", "content": system},
		{"role": "user", "content": user},
	})
	if err != nil {
		return nil, err
	}

	result, err := parseReviewResponse(response)
	if err != nil {
		return nil, err
	}

	if err := normalizeSplit(result, dc.Amount); err != nil {
		return nil, err
	}
	return result, nil
}

// parseReviewResponse извлекает JSON-разбор из ответа модели.
func parseReviewResponse(response string) (*ReviewResult, error) {
	raw := parseJSONFromText(response)
	if len(raw) == 0 {
		return nil, fmt.Errorf("ai: ответ без JSON")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var result ReviewResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, fmt.Errorf("ai: разбор ответа %w", err)
	}

	switch result.Decision {
	case "release", "refund", "split":
	default:
		return nil, fmt.Errorf("ai: неизвестное решение %q", result.Decision)
	}
	if result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return nil, fmt.Errorf("ai: confidence_score вне диапазона")
	}

	return &result, nil
}

// normalizeSplit выставляет доли release/refund по определению решения.
// Доли split проверяются на сохранение суммы: расхождение — ошибка,
// молча оно не исправляется.
func normalizeSplit(result *ReviewResult, amount int64) error {
	switch result.Decision {
	case "release":
		result.AmountToFreelancer = amount
		result.AmountToClient = 0
	case "refund":
		result.AmountToFreelancer = 0
		result.AmountToClient = amount
	default:
		if result.AmountToFreelancer < 0 || result.AmountToClient < 0 ||
			result.AmountToFreelancer+result.AmountToClient != amount {
			return fmt.Errorf("ai: доли split не сходятся с суммой вехи")
		}
	}
	return nil
}

// chatCompletion выполняет запрос к OpenAI-совместимому API.
func (c *Client) chatCompletion(ctx context.Context, messages []map[string]string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("ai: baseURL не задан")
	}

	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"max_tokens":  1024,
		"temperature": 0.2,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := c.baseURL
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	url += "chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		json.NewDecoder(resp.Body).Decode(&errorBody)
		return "", fmt.Errorf("ai: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("ai: пустой ответ")
	}

	return result.Choices[0].Message.Content, nil
}

// parseJSONFromText пытается извлечь JSON из текста, который может содержать markdown или другие символы
func parseJSONFromText(text string) map[string]interface{} {
	result := make(map[string]interface{})

	// Пытаемся найти JSON объект в тексте
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart != -1 && jsonEnd != -1 && jsonEnd > jsonStart {
		jsonStr := text[jsonStart : jsonEnd+1]
		if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
			return result
		}
	}

	// Пытаемся найти JSON в markdown блоке
	if strings.Contains(text, "```") {
		codeBlockMatch := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```").FindStringSubmatch(text)
		if len(codeBlockMatch) > 1 {
			if err := json.Unmarshal([]byte(codeBlockMatch[1]), &result); err == nil {
				return result
			}
		}
	}

	return result
}
