package policy

import (
	"fmt"
	"regexp"

	"github.com/kirillm/orb-bot/internal/domain"
)

type compiledRule struct {
	re      *regexp.Regexp
	divisor float64
}

// Denominator переводит котировки в основные единицы валюты.
// Правила проверяются по порядку, применяется первое совпавшее.
type Denominator struct {
	rules []compiledRule
}

// NewDenominator компилирует правила
func NewDenominator(rules []DenominationRule) (*Denominator, error) {
	d := &Denominator{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Divisor <= 0 {
			return nil, fmt.Errorf("%w: denomination rule %d: divisor must be positive", domain.ErrInvalidInput, i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: denomination rule %d: %v", domain.ErrInvalidInput, i, err)
		}
		d.rules = append(d.rules, compiledRule{re: re, divisor: r.Divisor})
	}
	return d, nil
}

// Divisor возвращает делитель для символа (1, если правил нет)
func (d *Denominator) Divisor(symbol string) float64 {
	for _, r := range d.rules {
		if r.re.MatchString(symbol) {
			return r.divisor
		}
	}
	return 1
}

// Normalize переводит цену символа в основные единицы
func (d *Denominator) Normalize(symbol string, price float64) float64 {
	return price / d.Divisor(symbol)
}
