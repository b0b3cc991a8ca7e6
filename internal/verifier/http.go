package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// Режимы верификатора
const (
	ModeHTTP     = "http"
	ModeLLM      = "llm"
	ModeDisabled = "disabled"
)

// HTTPVerifier спрашивает внешний сервис, нет ли причин не входить в сделку
type HTTPVerifier struct {
	url    string
	apiKey string
	client *http.Client
}

type verifyRequest struct {
	Symbol  string               `json:"symbol"`
	Context domain.VerifyContext `json:"context"`
}

// NewHTTPVerifier создает HTTP верификатор
func NewHTTPVerifier(url, apiKey string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Verify отправляет контекст сделки и возвращает вердикт.
// Сетевые ошибки и 5xx оборачивают domain.ErrVerifierUnavailable.
func (v *HTTPVerifier) Verify(ctx context.Context, symbol string, vc domain.VerifyContext) (domain.Verdict, error) {
	payload, err := json.Marshal(verifyRequest{Symbol: symbol, Context: vc})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: failed to read response: %v", domain.ErrVerifierUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Verdict{}, fmt.Errorf("%w: verifier status %d", domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return domain.Verdict{}, fmt.Errorf("%w: status %d", domain.ErrVerifierUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Verdict{}, fmt.Errorf("verifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var verdict domain.Verdict
	if err := json.Unmarshal(body, &verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return verdict, nil
}

// DisabledReason причина одобрения без вето, попадает в журнал решений
const DisabledReason = "veto bypassed: VERIFIER_MODE=disabled"

// Disabled пропускает любую сделку. Включается только явно (VERIFIER_MODE=disabled).
type Disabled struct{}

// Verify всегда возвращает Pass с пометкой Bypassed
func (Disabled) Verify(context.Context, string, domain.VerifyContext) (domain.Verdict, error) {
	return domain.Verdict{Pass: true, Reason: DisabledReason, Bypassed: true}, nil
}

var (
	_ domain.Verifier = (*HTTPVerifier)(nil)
	_ domain.Verifier = Disabled{}
)
