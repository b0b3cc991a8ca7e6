package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует уведомления для оператора
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

// T переводит строку
func (f *Formatter) T(key string) string {
	translations := map[string]map[Lang]string{
		"entry":           {LangEN: "Entry", LangRU: "Вход"},
		"exit":            {LangEN: "Exit", LangRU: "Выход"},
		"quantity":        {LangEN: "Quantity", LangRU: "Количество"},
		"price":           {LangEN: "Price", LangRU: "Цена"},
		"target":          {LangEN: "Target", LangRU: "Цель"},
		"stop":            {LangEN: "Stop", LangRU: "Стоп"},
		"slippage":        {LangEN: "Slippage", LangRU: "Проскальзывание"},
		"pnl":             {LangEN: "P&L", LangRU: "P&L"},
		"circuit_breaker": {LangEN: "Circuit breaker tripped", LangRU: "Сработал circuit breaker"},
		"session_loss":    {LangEN: "Session loss", LangRU: "Убыток сессии"},
		"drawdown_cap":    {LangEN: "Drawdown cap", LangRU: "Лимит просадки"},
		"scaling":         {LangEN: "Scaling unlocked", LangRU: "Масштабирование открыто"},
		"ceiling":         {LangEN: "Capital ceiling", LangRU: "Лимит капитала"},
		"state_corrupt":   {LangEN: "Ledger failed validation, reset to defaults", LangRU: "Леджер поврежден, сброшен к значениям по умолчанию"},
		"fatal":           {LangEN: "Tick aborted", LangRU: "Тик прерван"},
		"tick":            {LangEN: "Tick", LangRU: "Тик"},
		"dry_run":         {LangEN: "dry run", LangRU: "пробный запуск"},
		"open_positions":  {LangEN: "Open positions", LangRU: "Открытые позиции"},
		"realized":        {LangEN: "Realized profit", LangRU: "Реализованная прибыль"},
		"reconcile":       {LangEN: "Broker/ledger mismatch", LangRU: "Расхождение брокера и леджера"},
		"deferred":        {LangEN: "Monitoring deferred", LangRU: "Мониторинг отложен"},
		"exit_failed":     {LangEN: "Exit order failed, position stays open", LangRU: "Ордер на выход не исполнен, позиция остается открытой"},
	}

	if trans, ok := translations[key]; ok {
		if text, ok := trans[f.lang]; ok {
			return text
		}
	}
	return key
}

// FormatEntry форматирует открытие позиции
func (f *Formatter) FormatEntry(p domain.Position) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🟢 %s %s\n", f.T("entry"), p.Symbol))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("quantity"), formatQty(p.Quantity)))
	sb.WriteString(fmt.Sprintf("%s: %.4f\n", f.T("price"), p.EntryPrice))
	sb.WriteString(fmt.Sprintf("%s: %.4f\n", f.T("target"), p.TargetPrice))
	sb.WriteString(fmt.Sprintf("%s: %.4f", f.T("stop"), p.StopPrice))
	return sb.String()
}

// FormatExit форматирует закрытие позиции
func (f *Formatter) FormatExit(symbol, reason string, quantity, entry, exit, pnl float64) string {
	icon := "🎯"
	switch reason {
	case domain.ExitStop:
		icon = "🛑"
	case domain.ExitSlippage:
		icon = "⚠️"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s %s (%s)\n", icon, f.T("exit"), symbol, f.T(reason)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("quantity"), formatQty(quantity)))
	sb.WriteString(fmt.Sprintf("%.4f → %.4f\n", entry, exit))
	sb.WriteString(fmt.Sprintf("%s: %+.2f", f.T("pnl"), pnl))
	return sb.String()
}

// FormatBreaker форматирует срабатывание circuit breaker
func (f *Formatter) FormatBreaker(reason string, sessionLoss, drawdownCap float64) string {
	return fmt.Sprintf("🚨 %s\n%s\n%s: %.2f / %s: %.2f",
		f.T("circuit_breaker"), reason,
		f.T("session_loss"), sessionLoss,
		f.T("drawdown_cap"), drawdownCap)
}

// FormatSlippage форматирует нарушение проскальзывания
func (f *Formatter) FormatSlippage(symbol string, fill, trigger, deviation, threshold float64) string {
	return fmt.Sprintf("⚠️ %s %s: %.4f vs %.4f (%.3f%% > %.3f%%)",
		f.T("slippage"), symbol, fill, trigger, deviation*100, threshold*100)
}

// FormatScalingUnlocked форматирует открытие масштабирования
func (f *Formatter) FormatScalingUnlocked(realized, ceiling float64) string {
	return fmt.Sprintf("🚀 %s\n%s: %.2f\n%s: %.2f",
		f.T("scaling"), f.T("realized"), realized, f.T("ceiling"), ceiling)
}

// FormatStateCorrupt форматирует сброс поврежденного леджера
func (f *Formatter) FormatStateCorrupt(err error) string {
	return fmt.Sprintf("❗ %s\n%v", f.T("state_corrupt"), err)
}

// FormatFatal форматирует прерывание тика
func (f *Formatter) FormatFatal(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("fatal"), err)
}

// FormatExitFailed форматирует неудачный выход
func (f *Formatter) FormatExitFailed(symbol, reason string, err error) string {
	return fmt.Sprintf("❗ %s %s (%s): %v", f.T("exit_failed"), symbol, f.T(reason), err)
}

// FormatReconcile форматирует расхождение позиций брокера и леджера
func (f *Formatter) FormatReconcile(symbol, detail string) string {
	return fmt.Sprintf("❗ %s %s: %s", f.T("reconcile"), symbol, detail)
}

// FormatDeferred форматирует отложенный мониторинг
func (f *Formatter) FormatDeferred(symbols []string, reason string) string {
	return fmt.Sprintf("⏳ %s: %s (%s)", f.T("deferred"), strings.Join(symbols, ", "), reason)
}

// TickSummary итог тика для уведомления
type TickSummary struct {
	TickID        string
	DryRun        bool
	Took          time.Duration
	Entries       int
	Exits         int
	Rejections    int
	OpenPositions int
	Realized      float64
	SessionLoss   float64
	Halted        bool
}

// FormatTickSummary форматирует итог тика
func (f *Formatter) FormatTickSummary(s TickSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 %s %s", f.T("tick"), s.TickID))
	if s.DryRun {
		sb.WriteString(fmt.Sprintf(" (%s)", f.T("dry_run")))
	}
	sb.WriteString(fmt.Sprintf(" %s\n", FormatDuration(s.Took)))
	sb.WriteString(fmt.Sprintf("entries=%d exits=%d rejected=%d\n", s.Entries, s.Exits, s.Rejections))
	sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("open_positions"), s.OpenPositions))
	sb.WriteString(fmt.Sprintf("%s: %.2f\n", f.T("realized"), s.Realized))
	sb.WriteString(fmt.Sprintf("%s: %.2f", f.T("session_loss"), s.SessionLoss))
	if s.Halted {
		sb.WriteString("\n🚨 " + f.T("circuit_breaker"))
	}
	return sb.String()
}

func formatQty(q float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", q), "0"), ".")
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
