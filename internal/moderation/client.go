package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Result — вердикт модерации текста.
type Result struct {
	IsFlagged      bool     `json:"is_flagged"`
	FlaggedReasons []string `json:"flagged_reasons"`
	Confidence     float64  `json:"confidence"`
}

// Client обращается к сервису модерации контента. Без заданного адреса
// сервиса модерация пропускает любой текст: отсутствие внешнего сервиса
// не должно блокировать работу платформы.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  os.Getenv("MODERATION_API_KEY"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ReviewText проверяет текст перед публикацией.
func (c *Client) ReviewText(ctx context.Context, text string) (*Result, error) {
	if c.baseURL == "" {
		return &Result{IsFlagged: false}, nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/moderate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation: запрос %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("moderation: код ответа %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("moderation: разбор ответа %w", err)
	}

	return &result, nil
}
