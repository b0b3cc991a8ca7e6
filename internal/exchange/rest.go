package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kirillm/orb-bot/internal/domain"
)

const (
	positionsPath = "/api/v0/equity/positions"
	ordersPath    = "/api/v0/equity/orders/market"
	limitPath     = "/api/v0/equity/orders/limit"
	quotePath     = "/api/v0/equity/quotes/"
	barsPath      = "/api/v0/market/bars"
)

// RESTConfig параметры HTTP клиента брокера
type RESTConfig struct {
	BaseURL       string
	MarketDataURL string // по умолчанию BaseURL
	APIKey        string
	APISecret     string // пустой: запросы не подписываются
	RPS           float64
	Timeout       time.Duration
}

// RESTClient клиент брокера и поставщика свечей.
// Реализует domain.Broker и domain.MarketData.
type RESTClient struct {
	cfg     RESTConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type orderPayload struct {
	ClientOrderID string  `json:"clientOrderId"`
	Ticker        string  `json:"ticker"`
	Quantity      float64 `json:"quantity"`
	Type          string  `json:"type"`
	LimitPrice    float64 `json:"limitPrice,omitempty"`
	TimeValidity  string  `json:"timeValidity,omitempty"`
}

type orderResponse struct {
	ID             json.RawMessage `json:"id"`
	Status         string          `json:"status"`
	FilledQuantity float64         `json:"filledQuantity"`
	FillPrice      float64         `json:"fillPrice"`
}

type positionResponse struct {
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"averagePrice"`
}

// NewRESTClient создает клиента
func NewRESTClient(cfg RESTConfig, logger *zap.Logger) *RESTClient {
	if cfg.MarketDataURL == "" {
		cfg.MarketDataURL = cfg.BaseURL
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.MarketDataURL = strings.TrimRight(cfg.MarketDataURL, "/")

	return &RESTClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:  logger,
	}
}

// GetQuote получает текущую цену в единицах котировки
func (c *RESTClient) GetQuote(ctx context.Context, symbol string) (float64, error) {
	var resp quoteResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+quotePath+url.PathEscape(symbol), nil, &resp); err != nil {
		return 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("%w: empty price for %s", domain.ErrDataUnavailable, symbol)
	}
	return resp.Price, nil
}

// PlaceOrder размещает ордер. Продажа передается отрицательным количеством.
func (c *RESTClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: order quantity %v", domain.ErrInvalidInput, req.Quantity)
	}

	qty := req.Quantity
	if req.Side == domain.SideSell {
		qty = -qty
	}
	payload := orderPayload{
		ClientOrderID: req.ClientOrderID,
		Ticker:        req.Symbol,
		Quantity:      qty,
		Type:          req.Type,
	}
	path := ordersPath
	if req.Type == domain.OrderTypeLimit {
		if !(req.LimitPrice > 0) {
			return nil, fmt.Errorf("%w: limit order without limit price", domain.ErrInvalidInput)
		}
		path = limitPath
		payload.LimitPrice = req.LimitPrice
		payload.TimeValidity = "DAY"
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+path, payload, &resp); err != nil {
		return nil, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}

	filled := resp.FilledQuantity
	if filled < 0 {
		filled = -filled
	}
	return &domain.OrderResult{
		OrderID:        strings.Trim(string(resp.ID), `"`),
		FillPrice:      resp.FillPrice,
		FilledQuantity: filled,
		Status:         normalizeStatus(resp.Status),
	}, nil
}

// GetOpenPositions возвращает позиции по данным брокера
func (c *RESTClient) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var resp []positionResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+positionsPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(resp))
	for _, p := range resp {
		if p.Quantity == 0 {
			continue
		}
		positions = append(positions, domain.BrokerPosition{
			Symbol:       p.Ticker,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
		})
	}
	return positions, nil
}

// GetBars возвращает свечи с момента since, упорядоченные по времени
func (c *RESTClient) GetBars(ctx context.Context, symbol, interval string, since time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("since", since.UTC().Format(time.RFC3339))

	var bars []domain.Bar
	if err := c.do(ctx, http.MethodGet, c.cfg.MarketDataURL+barsPath+"?"+q.Encode(), nil, &bars); err != nil {
		return nil, fmt.Errorf("bars %s: %w", symbol, err)
	}
	return bars, nil
}

func (c *RESTClient) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req, payload)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", domain.ErrDataUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		c.logger.Warn("broker request failed",
			zap.String("method", method),
			zap.String("endpoint", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", domain.ErrDataUnavailable, err)
	}
	return nil
}

// classifyStatus переводит HTTP статус в ошибки домена
func classifyStatus(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrAuthFailure, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrDataUnavailable, code, msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", domain.ErrOrderRejected, code, msg)
	default:
		return errors.New("unexpected status " + strconv.Itoa(code) + ": " + msg)
	}
}

func normalizeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "FILLED":
		return domain.OrderStatusFilled
	case "PARTIALLY_FILLED", "PARTIAL":
		return domain.OrderStatusPartial
	case "CANCELLED", "CANCELED":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusRejected
	}
}

// setAuthHeaders устанавливает заголовки авторизации.
// При заданном секрете тело подписывается HMAC-SHA256.
func (c *RESTClient) setAuthHeaders(req *http.Request, payload []byte) {
	req.Header.Set("Authorization", c.cfg.APIKey)
	if c.cfg.APISecret == "" {
		return
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", c.generateSignature(timestamp, req.URL.RequestURI(), payload))
}

// generateSignature подпись timestamp + путь + тело
func (c *RESTClient) generateSignature(timestamp, path string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(timestamp + c.cfg.APIKey + path))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var (
	_ domain.Broker     = (*RESTClient)(nil)
	_ domain.MarketData = (*RESTClient)(nil)
)
