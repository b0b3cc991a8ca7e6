package market

import (
	"fmt"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// SessionConfig описывает расписание торговой сессии
type SessionConfig struct {
	Location      *time.Location
	Open          time.Duration // смещение открытия от полуночи, например 8h
	OpeningWindow time.Duration // окно формирования диапазона, например 15m
	DataCutoff    time.Duration // первая свеча позже open+cutoff делает наблюдение устаревшим
	BaselineDays  int           // сколько прошлых сессий участвует в базе RVOL
}

// Validate проверяет конфигурацию сессии
func (c SessionConfig) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("%w: session location is required", domain.ErrInvalidInput)
	}
	if c.Open < 0 || c.Open >= 24*time.Hour {
		return fmt.Errorf("%w: session open %v outside the day", domain.ErrInvalidInput, c.Open)
	}
	if c.OpeningWindow <= 0 {
		return fmt.Errorf("%w: opening window must be positive", domain.ErrInvalidInput)
	}
	if c.DataCutoff < c.OpeningWindow {
		return fmt.Errorf("%w: data cutoff %v is shorter than the opening window %v",
			domain.ErrInvalidInput, c.DataCutoff, c.OpeningWindow)
	}
	if c.BaselineDays < 1 {
		return fmt.Errorf("%w: baseline days must be >= 1", domain.ErrInvalidInput)
	}
	return nil
}

// Midnight возвращает начало календарного дня t в часовом поясе биржи
func (c SessionConfig) Midnight(t time.Time) time.Time {
	local := t.In(c.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location)
}

// SessionDate возвращает дату сессии в формате domain.SessionDateLayout
func (c SessionConfig) SessionDate(t time.Time) string {
	return t.In(c.Location).Format(domain.SessionDateLayout)
}

// SessionOpen возвращает время открытия сессии, которой принадлежит t
func (c SessionConfig) SessionOpen(t time.Time) time.Time {
	return c.Midnight(t).Add(c.Open)
}

// WindowClose возвращает момент, когда диапазон открытия зафиксирован
func (c SessionConfig) WindowClose(t time.Time) time.Time {
	return c.SessionOpen(t).Add(c.OpeningWindow)
}

// HistorySince возвращает момент, с которого нужно запрашивать свечи,
// чтобы покрыть BaselineDays прошлых сессий с учетом выходных
func (c SessionConfig) HistorySince(t time.Time) time.Time {
	calendarDays := c.BaselineDays*7/5 + 3
	return c.Midnight(t).AddDate(0, 0, -calendarDays)
}
