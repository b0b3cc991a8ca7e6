package market

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

// Причины устаревшего наблюдения
const (
	StaleNoData       = "no session bars"
	StaleAfterCutoff  = "first bar after data cutoff"
	StaleNoWindowBars = "no bars inside opening window"
	StaleNoVolume     = "no session volume"
)

// Observer превращает историю свечей в Observation.
// Диапазон открытия фиксируется один раз на символ и сессию.
type Observer struct {
	cfg    SessionConfig
	logger *zap.Logger

	mu     sync.Mutex
	ranges map[string]domain.OpeningRange
}

// NewObserver создает наблюдателя
func NewObserver(cfg SessionConfig, logger *zap.Logger) *Observer {
	return &Observer{
		cfg:    cfg,
		logger: logger,
		ranges: make(map[string]domain.OpeningRange),
	}
}

// Config возвращает расписание сессии
func (o *Observer) Config() SessionConfig {
	return o.cfg
}

// Seed загружает ранее зафиксированные диапазоны (из леджера)
func (o *Observer) Seed(ranges map[string]domain.OpeningRange) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for sym, r := range ranges {
		o.ranges[sym] = r
	}
}

// Ranges возвращает копию зафиксированных диапазонов текущей сессии
func (o *Observer) Ranges(sessionDate string) map[string]domain.OpeningRange {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]domain.OpeningRange, len(o.ranges))
	for sym, r := range o.ranges {
		if r.SessionDate == sessionDate {
			out[sym] = r
		}
	}
	return out
}

// Observe строит картину рынка по символу на момент asOf.
// Свечи должны быть упорядочены по времени.
func (o *Observer) Observe(symbol string, bars []domain.Bar, asOf time.Time) domain.Observation {
	sessionDate := o.cfg.SessionDate(asOf)
	open := o.cfg.SessionOpen(asOf)
	midnight := o.cfg.Midnight(asOf)

	var session, prior []domain.Bar
	for _, b := range bars {
		switch {
		case b.Time.After(asOf):
			continue
		case b.Time.Before(midnight):
			prior = append(prior, b)
		case !b.Time.Before(open):
			session = append(session, b)
		}
	}

	if len(session) == 0 {
		return domain.StaleObservation(symbol, asOf, StaleNoData)
	}
	if session[0].Time.After(open.Add(o.cfg.DataCutoff)) {
		return domain.StaleObservation(symbol, asOf, StaleAfterCutoff)
	}

	obs := domain.Observation{
		Symbol:     symbol,
		LastClose:  session[len(session)-1].Close,
		LastBarAt:  session[len(session)-1].Time,
		CapturedAt: asOf,
	}

	rng, ready, err := o.openingRange(symbol, sessionDate, session, asOf)
	if err != nil {
		return domain.StaleObservation(symbol, asOf, err.Error())
	}
	if ready {
		obs.RangeHigh = rng.High
		obs.RangeLow = rng.Low
		obs.RangeReady = true
	}

	var pv, volume float64
	for _, b := range session {
		pv += b.TypicalPrice() * b.Volume
		volume += b.Volume
	}
	if volume <= 0 {
		return domain.StaleObservation(symbol, asOf, StaleNoVolume)
	}
	obs.VWAP = pv / volume
	obs.SessionVolume = volume
	obs.RelativeVolume = o.relativeVolume(volume, prior, asOf.Sub(open))

	return obs
}

func (o *Observer) openingRange(symbol, sessionDate string, session []domain.Bar, asOf time.Time) (domain.OpeningRange, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.ranges[symbol]; ok && r.SessionDate == sessionDate {
		return r, true, nil
	}

	windowClose := o.cfg.WindowClose(asOf)
	if asOf.Before(windowClose) {
		return domain.OpeningRange{}, false, nil
	}

	r := domain.OpeningRange{SessionDate: sessionDate, CapturedAt: asOf.UTC()}
	found := false
	for _, b := range session {
		if !b.Time.Before(windowClose) {
			break
		}
		if !found || b.High > r.High {
			r.High = b.High
		}
		if !found || b.Low < r.Low {
			r.Low = b.Low
		}
		found = true
	}
	if !found {
		return domain.OpeningRange{}, false, errors.New(StaleNoWindowBars)
	}

	o.ranges[symbol] = r
	o.logger.Info("opening range captured",
		zap.String("symbol", symbol),
		zap.String("session", sessionDate),
		zap.Float64("high", r.High),
		zap.Float64("low", r.Low))
	return r, true, nil
}

// relativeVolume делит объем текущей сессии на средний объем прошлых сессий
// за тот же отрезок от открытия. Без базы возвращает 0.
func (o *Observer) relativeVolume(sessionVolume float64, prior []domain.Bar, elapsed time.Duration) float64 {
	byDay := make(map[string]float64)
	for _, b := range prior {
		dayOpen := o.cfg.SessionOpen(b.Time)
		if b.Time.Before(dayOpen) || b.Time.After(dayOpen.Add(elapsed)) {
			continue
		}
		byDay[o.cfg.SessionDate(b.Time)] += b.Volume
	}
	if len(byDay) == 0 {
		return 0
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > o.cfg.BaselineDays {
		days = days[:o.cfg.BaselineDays]
	}

	var total float64
	for _, d := range days {
		total += byDay[d]
	}
	baseline := total / float64(len(days))
	if baseline <= 0 {
		return 0
	}
	return sessionVolume / baseline
}
