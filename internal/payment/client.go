// Package payment предоставляет клиент платёжной сети Pi Network: проверку платежей и пользователей.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidToken возвращается, если Pi Network не узнала токен доступа.
var ErrInvalidToken = errors.New("invalid pi access token")

// Client инкапсулирует HTTP-взаимодействие с Pi Network.
type Client struct {
	baseURL    string
	apiKey     string
	mock       bool
	httpClient *http.Client
}

// Verification содержит результат проверки платежа.
type Verification struct {
	Verified  bool
	PaymentID string
	AmountPi  float64
	Status    string
	TxID      string
}

// Identity описывает пользователя Pi Network, которому принадлежит токен доступа.
type Identity struct {
	PiUserID string
	Username string
}

// NewClient создаёт клиент Pi Network. В режиме mock платежи и токены не проверяются удалённо.
func NewClient(baseURL, apiKey string, mock bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		mock:    mock,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type paymentResponse struct {
	Identifier  string          `json:"identifier"`
	Amount      float64         `json:"amount"`
	Status      paymentStatus   `json:"status"`
	Transaction *paymentTxState `json:"transaction"`
}

type paymentTxState struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
}

// paymentStatus принимает статус и строкой, и объектом флагов, как его отдаёт API v2.
type paymentStatus struct {
	Text               string
	DeveloperCompleted bool `json:"developer_completed"`
	TransactionOK      bool `json:"transaction_verified"`
	Cancelled          bool `json:"cancelled"`
}

func (s *paymentStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Text)
	}
	type flags paymentStatus
	var f flags
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = paymentStatus(f)
	switch {
	case s.Cancelled:
		s.Text = "cancelled"
	case s.DeveloperCompleted || s.TransactionOK:
		s.Text = "completed"
	default:
		s.Text = "pending"
	}
	return nil
}

// VerifyPayment запрашивает платёж по идентификатору. Платёж подтверждён, если он завершён
// и его транзакция проверена сетью. claimedPi используется только в режиме mock.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string, claimedPi float64) (*Verification, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("empty payment id")
	}

	if c.mock {
		return &Verification{
			Verified:  true,
			PaymentID: paymentID,
			AmountPi:  claimedPi,
			Status:    "completed",
			TxID:      "mock_" + paymentID,
		}, nil
	}

	if c.apiKey == "" {
		return nil, fmt.Errorf("pi api key not configured")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	var p paymentResponse
	if err := c.do(req, &p); err != nil {
		return nil, err
	}

	v := &Verification{
		PaymentID: p.Identifier,
		AmountPi:  p.Amount,
		Status:    p.Status.Text,
	}
	if p.Transaction != nil {
		v.TxID = p.Transaction.TxID
		v.Verified = p.Status.Text == "completed" && p.Transaction.Verified
	}
	return v, nil
}

// Identify возвращает пользователя Pi Network по токену доступа. В режиме mock принимает
// токены вида "pi:USERID:USERNAME".
func (c *Client) Identify(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	if c.mock {
		parts := strings.SplitN(accessToken, ":", 3)
		if len(parts) < 2 || parts[0] != "pi" || parts[1] == "" {
			return nil, ErrInvalidToken
		}
		username := "user_" + parts[1]
		if len(parts) == 3 && parts[2] != "" {
			username = parts[2]
		}
		return &Identity{PiUserID: parts[1], Username: username}, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v2/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var me struct {
		UID      string `json:"uid"`
		Username string `json:"username"`
	}
	if err := c.do(req, &me); err != nil {
		return nil, err
	}
	if me.UID == "" {
		return nil, ErrInvalidToken
	}
	if me.Username == "" {
		me.Username = "user_" + me.UID
	}
	return &Identity{PiUserID: me.UID, Username: me.Username}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidToken
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
