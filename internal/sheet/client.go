// Package sheet предоставляет клиент внешнего табличного реестра выводов.
package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrUnavailable возвращается, если реестр не принял строку после всех повторов.
var ErrUnavailable = errors.New("sheet sink unavailable")

// Row описывает одну строку реестра выводов.
type Row struct {
	WithdrawalID string `json:"withdrawal_id"`
	Username     string `json:"username"`
	Amount       int64  `json:"amount"`
	Destination  string `json:"destination"`
	RequestedAt  string `json:"requested_at"`
}

// Client инкапсулирует HTTP-взаимодействие с табличным реестром.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент реестра по указанному адресу.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AppendRow добавляет строку в реестр. Временные сбои повторяются
// с растущими паузами; после исчерпания попыток возвращается ErrUnavailable,
// и вызывающая сторона обязана выполнить компенсацию списания.
func (c *Client) AppendRow(ctx context.Context, row Row) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: not configured", ErrUnavailable)
	}

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/append", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	return nil
}
