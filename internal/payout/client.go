package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ErrTransferDeclined возвращается, когда провайдер отклонил перевод.
var ErrTransferDeclined = errors.New("payout: transfer declined")

// Transfer — подтверждённый провайдером перевод.
type Transfer struct {
	ProviderTxID string `json:"provider_tx_id"`
	Amount       int64  `json:"amount"`
	Status       string `json:"status"`
}

// Client обращается к платёжному провайдеру для вывода средств на счета
// пользователей. Сумма передаётся в минорных единицах валюты.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: os.Getenv("PAYOUT_SECRET_KEY"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferRequest struct {
	AccountRef string `json:"account_ref"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
}

type transferResponse struct {
	Status  bool     `json:"status"`
	Message string   `json:"message"`
	Data    Transfer `json:"data"`
}

// Transfer инициирует перевод на счёт пользователя. Reference — ключ
// идемпотентности на стороне провайдера (id транзакции леджера).
func (c *Client) Transfer(ctx context.Context, accountRef string, amount int64, currency, reference string) (*Transfer, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("payout: baseURL не задан")
	}

	body, err := json.Marshal(transferRequest{
		AccountRef: accountRef,
		Amount:     amount,
		Currency:   currency,
		Reference:  reference,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payout: запрос %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("payout: код ответа %d", resp.StatusCode)
	}

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("payout: разбор ответа %w", err)
	}

	if resp.StatusCode >= 400 || !result.Status {
		return nil, fmt.Errorf("%w: %s", ErrTransferDeclined, result.Message)
	}

	return &result.Data, nil
}
