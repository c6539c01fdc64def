// Package googleauth выполняет проверку ID-токенов Google через endpoint tokeninfo.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultEndpoint = "https://oauth2.googleapis.com/tokeninfo"

// ErrInvalidToken возвращается для отклонённого или чужого ID-токена.
var ErrInvalidToken = errors.New("invalid google id token")

// Identity содержит проверенные данные внешней учётной записи.
type Identity struct {
	Subject string
	Email   string
}

// Verifier проверяет ID-токены и сверяет audience с ожидаемым значением.
type Verifier struct {
	endpoint   string
	audience   string
	httpClient *http.Client
}

type tokenInfo struct {
	Sub   string `json:"sub"`
	Aud   string `json:"aud"`
	Email string `json:"email"`
}

// NewVerifier создаёт Verifier для указанного audience.
func NewVerifier(audience string) *Verifier {
	return &Verifier{
		endpoint: defaultEndpoint,
		audience: audience,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewVerifierWithEndpoint создаёт Verifier с нестандартным endpoint (для тестов).
func NewVerifierWithEndpoint(audience, endpoint string) *Verifier {
	v := NewVerifier(audience)
	v.endpoint = strings.TrimRight(endpoint, "/")
	return v
}

// Verify проверяет подпись и audience ID-токена и возвращает
// идентификатор субъекта и email.
func (v *Verifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if idToken == "" {
		return nil, ErrInvalidToken
	}

	u := v.endpoint + "?" + url.Values{"id_token": {idToken}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// tokeninfo отвечает 400 на любой невалидный токен
	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if info.Aud != v.audience {
		return nil, ErrInvalidToken
	}
	if info.Sub == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		Subject: info.Sub,
		Email:   info.Email,
	}, nil
}
