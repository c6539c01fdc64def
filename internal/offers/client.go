// Package offers предоставляет клиент для внешнего каталога офферов.
package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrTimeout возвращается, если каталог офферов не ответил за отведённое время.
var (
	ErrTimeout = errors.New("offers API timeout")
	// ErrUpstream возвращается при любом другом сбое каталога офферов.
	ErrUpstream = errors.New("offers API unavailable")
)

// Client инкапсулирует HTTP-взаимодействие с каталогом офферов.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// Offer содержит поля оффера, нужные для вычисления категорий.
// Остальные поля каталога проксируются без разбора.
type Offer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type listResponse struct {
	Data []Offer `json:"data"`
}

// NewClient создаёт HTTP-клиент каталога офферов с повторами на сетевых сбоях.
// timeout ограничивает суммарное время запроса вместе со всеми повторами.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("offers client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	u := base + "/v1/offers_informations"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	// Дедлайн покрывает запрос вместе со всеми повторами, чтобы зависший
	// каталог не держал обработчик дольше отведённого времени.
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, u)
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return body, nil
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

// GetOffers возвращает сырой JSON каталога; параметры фильтрации
// (page, limit, keyword, domain, coupon) передаются без изменений.
func (c *Client) GetOffers(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.fetch(ctx, params)
}

// GetCategories возвращает отсортированный список доменов площадок,
// встречающихся в каталоге.
func (c *Client) GetCategories(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("limit", "100")

	body, err := c.fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}

	seen := make(map[string]bool)
	var res []string
	for _, o := range list.Data {
		if o.Domain == "" || seen[o.Domain] {
			continue
		}
		seen[o.Domain] = true
		res = append(res, o.Domain)
	}

	sort.Strings(res)
	return res, nil
}
