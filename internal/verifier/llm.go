package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

const systemPrompt = `You are a risk officer reviewing an intraday opening-range breakout entry.
Decide whether there is a concrete reason NOT to enter now: pending earnings,
a trading halt, a profit warning, a takeover announcement, or abnormal news flow.
Respond ONLY with JSON: {"pass": true|false, "reason": "<one sentence>"}.`

// LLMVerifier спрашивает chat completions API о причинах не входить в сделку
type LLMVerifier struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// NewLLMVerifier создает верификатор для одной модели
func NewLLMVerifier(apiKey, baseURL, model string, timeout time.Duration) *LLMVerifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMVerifier{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model возвращает имя модели
func (v *LLMVerifier) Model() string {
	return v.model
}

// Verify строит промпт по контексту сделки и разбирает JSON вердикт
func (v *LLMVerifier) Verify(ctx context.Context, symbol string, vc domain.VerifyContext) (domain.Verdict, error) {
	messages := []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(symbol, vc)},
	}

	response, err := v.chat(ctx, messages)
	if err != nil {
		return domain.Verdict{}, err
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(extractJSON(response)), &verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("failed to parse verdict from %s: %w", v.model, err)
	}
	if strings.TrimSpace(verdict.Reason) == "" {
		verdict.Reason = "no reason given"
	}
	return verdict, nil
}

func buildPrompt(symbol string, vc domain.VerifyContext) string {
	return fmt.Sprintf(`Symbol: %s
Time: %s
Entry price: %.4f (quantity %.4f)
Opening range: %.4f - %.4f
Session VWAP: %.4f
Relative volume: %.2f`,
		symbol, vc.AsOf.UTC().Format(time.RFC3339),
		vc.Price, vc.Quantity, vc.RangeLow, vc.RangeHigh, vc.VWAP, vc.RelativeVolume)
}

func (v *LLMVerifier) chat(ctx context.Context, messages []message) (string, error) {
	jsonData, err := json.Marshal(chatRequest{Model: v.model, Messages: messages})
	if err != nil {
		return "", err
	}

	// Не дублируем /v1, если он уже есть в baseURL
	endpoint := strings.TrimRight(v.baseURL, "/")
	if !strings.HasSuffix(endpoint, "/v1") {
		endpoint += "/v1"
	}
	endpoint += "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", v.apiKey))

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", domain.ErrRateLimited, v.model)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %s status %d", domain.ErrVerifierUnavailable, v.model, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("AI API error: %s", string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", v.model)
	}
	return chatResp.Choices[0].Message.Content, nil
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// extractJSON достает JSON объект из ответа модели:
// убирает блоки рассуждений, markdown и текст вокруг
func extractJSON(text string) string {
	text = strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	if m := fenceBlock.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// Council опрашивает несколько верификаторов параллельно и требует
// согласия большинства ответивших. Если ответило меньше кворума, это ошибка.
type Council struct {
	judges []*LLMVerifier
	quorum int
	logger *zap.Logger
}

// NewCouncil создает совет. quorum <= 0 означает строгое большинство.
func NewCouncil(judges []*LLMVerifier, quorum int, logger *zap.Logger) *Council {
	if quorum <= 0 {
		quorum = len(judges)/2 + 1
	}
	return &Council{judges: judges, quorum: quorum, logger: logger}
}

type ballot struct {
	model   string
	verdict domain.Verdict
	err     error
}

// Verify пропускает сделку, если не меньше quorum судей ответили pass
func (c *Council) Verify(ctx context.Context, symbol string, vc domain.VerifyContext) (domain.Verdict, error) {
	if len(c.judges) == 0 {
		return domain.Verdict{}, fmt.Errorf("%w: no judges configured", domain.ErrVerifierUnavailable)
	}

	ballots := make([]ballot, len(c.judges))
	var wg sync.WaitGroup
	for i, j := range c.judges {
		wg.Add(1)
		go func(i int, j *LLMVerifier) {
			defer wg.Done()
			v, err := j.Verify(ctx, symbol, vc)
			ballots[i] = ballot{model: j.Model(), verdict: v, err: err}
		}(i, j)
	}
	wg.Wait()

	var answered, passed int
	var vetoes []string
	var lastErr error
	for _, b := range ballots {
		if b.err != nil {
			c.logger.Warn("judge unavailable", zap.String("model", b.model), zap.Error(b.err))
			lastErr = b.err
			continue
		}
		answered++
		if b.verdict.Pass {
			passed++
		} else {
			vetoes = append(vetoes, b.model+": "+b.verdict.Reason)
		}
	}

	if answered < c.quorum {
		return domain.Verdict{}, fmt.Errorf("%w: %d of %d judges answered, quorum %d: %v",
			domain.ErrVerifierUnavailable, answered, len(c.judges), c.quorum, lastErr)
	}
	if passed >= c.quorum {
		return domain.Verdict{Pass: true, Reason: fmt.Sprintf("%d/%d judges passed", passed, answered)}, nil
	}
	return domain.Verdict{Pass: false, Reason: strings.Join(vetoes, "; ")}, nil
}

var (
	_ domain.Verifier = (*LLMVerifier)(nil)
	_ domain.Verifier = (*Council)(nil)
)
