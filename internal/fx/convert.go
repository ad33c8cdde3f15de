package fx

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
)

// Tolerance is the smallest amount treated as a real difference between two
// rounded money values.
var Tolerance = decimal.RequireFromString("0.009")

// MissingRateError reports a currency code absent from the rate table.
type MissingRateError struct {
	Code string
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no exchange rate for %q", e.Code)
}

func (e *MissingRateError) Unwrap() error {
	return domain.ErrInvalidCurrency
}

// Converter converts amounts between currencies anchored on the base
// currency, whose rate is always 1.
type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

func NewConverter(currencies []domain.Currency) (*Converter, error) {
	c := &Converter{rates: make(map[string]decimal.Decimal, len(currencies))}
	for _, cur := range currencies {
		code := NormalizeCode(cur.Code)
		if code == "" || !cur.Rate.IsPositive() {
			return nil, fmt.Errorf("%w: %q needs a positive rate", domain.ErrInvalidCurrency, cur.Code)
		}
		if cur.IsBase {
			if c.base != "" {
				return nil, fmt.Errorf("%w: more than one base currency", domain.ErrInvalidCurrency)
			}
			if !cur.Rate.Equal(decimal.NewFromInt(1)) {
				return nil, fmt.Errorf("%w: base currency rate must be 1", domain.ErrInvalidCurrency)
			}
			c.base = code
		}
		c.rates[code] = cur.Rate
	}
	if c.base == "" {
		return nil, fmt.Errorf("%w: base currency missing", domain.ErrInvalidCurrency)
	}
	return c, nil
}

func (c *Converter) Base() string {
	return c.base
}

func (c *Converter) Has(code string) bool {
	_, ok := c.rates[NormalizeCode(code)]
	return ok
}

func (c *Converter) Rate(code string) (decimal.Decimal, error) {
	rate, ok := c.rates[NormalizeCode(code)]
	if !ok {
		return decimal.Zero, &MissingRateError{Code: code}
	}
	return rate, nil
}

// Convert returns amount * rate(from) / rate(to) without rounding.
func (c *Converter) Convert(amount decimal.Decimal, from string, to string) (decimal.Decimal, error) {
	fromRate, err := c.Rate(from)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := c.Rate(to)
	if err != nil {
		return decimal.Zero, err
	}
	if NormalizeCode(from) == NormalizeCode(to) {
		return amount, nil
	}
	return amount.Mul(fromRate).Div(toRate), nil
}

func (c *Converter) ToBase(amount decimal.Decimal, from string) (decimal.Decimal, error) {
	return c.Convert(amount, from, c.base)
}

func (c *Converter) FromBase(amount decimal.Decimal, to string) (decimal.Decimal, error) {
	return c.Convert(amount, c.base, to)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Exceeds reports whether |a - b| is larger than limit.
func Exceeds(a decimal.Decimal, b decimal.Decimal, limit decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(limit)
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
