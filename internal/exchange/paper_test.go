package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

type fakeBars struct {
	bars []domain.Bar
	err  error
}

func (f *fakeBars) GetBars(ctx context.Context, symbol, interval string, since time.Time) ([]domain.Bar, error) {
	return f.bars, f.err
}

type memLedger struct {
	state *domain.LedgerState
}

func (m *memLedger) Load(ctx context.Context) (*domain.LedgerState, error) {
	return m.state.Clone(), nil
}

func (m *memLedger) Save(ctx context.Context, state *domain.LedgerState) error {
	m.state = state.Clone()
	return nil
}

func TestPaperQuoteUsesLastClose(t *testing.T) {
	data := &fakeBars{bars: []domain.Bar{{Close: 99}, {Close: 101}, {Close: 0}}}
	p := NewPaperBroker(data, nil, "5m", zap.NewNop())

	price, err := p.GetQuote(context.Background(), "VOD")
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)
}

func TestPaperQuoteWithoutBarsIsUnavailable(t *testing.T) {
	p := NewPaperBroker(&fakeBars{}, nil, "5m", zap.NewNop())

	_, err := p.GetQuote(context.Background(), "VOD")
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
}

func TestPaperOrdersTrackPositions(t *testing.T) {
	data := &fakeBars{bars: []domain.Bar{{Close: 100}}}
	p := NewPaperBroker(data, nil, "5m", zap.NewNop())
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, domain.OrderRequest{ClientOrderID: "a", Symbol: "VOD", Quantity: 2, Side: domain.SideBuy})
	require.NoError(t, err)
	assert.True(t, res.Filled())
	assert.Equal(t, 100.0, res.FillPrice)
	assert.NotEmpty(t, res.OrderID)

	positions, err := p.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 2.0, positions[0].Quantity)

	_, err = p.PlaceOrder(ctx, domain.OrderRequest{Symbol: "VOD", Quantity: 3, Side: domain.SideSell})
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))

	_, err = p.PlaceOrder(ctx, domain.OrderRequest{Symbol: "VOD", Quantity: 2, Side: domain.SideSell})
	require.NoError(t, err)

	positions, err = p.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperSeedsFromLedger(t *testing.T) {
	state := domain.NewLedgerState(1000, "2026-03-02")
	state.PutPosition(domain.Position{
		Symbol: "VOD", EntryPrice: 100, Quantity: 2, TargetPrice: 110, StopPrice: 95, Status: domain.StatusOpen,
	})
	p := NewPaperBroker(&fakeBars{}, &memLedger{state: state}, "5m", zap.NewNop())

	positions, err := p.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.BrokerPosition{Symbol: "VOD", Quantity: 2, AveragePrice: 100}, positions[0])
}

func TestPaperLimitBuyAboveLimitIsNotFilled(t *testing.T) {
	data := &fakeBars{bars: []domain.Bar{{Close: 100.3}}}
	p := NewPaperBroker(data, nil, "5m", zap.NewNop())
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "a", Symbol: "VOD", Quantity: 2, Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, LimitPrice: 100.2,
	})
	require.NoError(t, err)
	assert.False(t, res.Filled())
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)

	positions, err := p.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	data.bars = []domain.Bar{{Close: 100.15}}
	res, err = p.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "b", Symbol: "VOD", Quantity: 2, Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, LimitPrice: 100.2,
	})
	require.NoError(t, err)
	assert.True(t, res.Filled())
	assert.Equal(t, 100.15, res.FillPrice)
}
