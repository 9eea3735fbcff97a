// Package money считает суммы корзины в десятичной арифметике и переводит их
// в минимальные единицы валюты провайдера.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// TaxRate ставка налога, применяемая к подытогу корзины.
var TaxRate = decimal.RequireFromString("0.07")

// MinChargeMinor минимальная сумма платежа у провайдера в минимальных единицах.
const MinChargeMinor int64 = 50

// MaxChargeMinor максимальная сумма платежа у провайдера в минимальных единицах.
const MaxChargeMinor int64 = 99_999_999

var maxCharge = FromMinor(MaxChargeMinor)

// Totals итог корзины.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// TotalMinor итоговая сумма в минимальных единицах валюты.
func (t Totals) TotalMinor() int64 {
	return ToMinor(t.Total)
}

// ParsePrice разбирает цену позиции: неотрицательное число не более чем с двумя
// знаками после точки и не больше максимального платежа.
func ParsePrice(s string) (decimal.Decimal, error) {
	const op = "money.ParsePrice"
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: price %q", op, models.ErrInvalidCartItem, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: %w: negative price %q", op, models.ErrInvalidCartItem, s)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("%s: %w: price %q has more than two decimals", op, models.ErrInvalidCartItem, s)
	}
	if d.GreaterThan(maxCharge) {
		return decimal.Zero, fmt.Errorf("%s: %w: price %q exceeds the maximum charge", op, models.ErrInvalidCartItem, s)
	}
	return d, nil
}

// LineAmount стоимость позиции: цена × количество.
func LineAmount(item models.CartItem) (decimal.Decimal, error) {
	const op = "money.LineAmount"
	if item.Quantity < 1 {
		return decimal.Zero, fmt.Errorf("%s: %w: quantity %d for %q", op, models.ErrInvalidCartItem, item.Quantity, item.ID)
	}
	price, err := ParsePrice(item.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	return price.Mul(decimal.NewFromInt(int64(item.Quantity))), nil
}

// CalculateTotals считает подытог, налог (округлённый до центов) и итог корзины.
// Итог больше MaxChargeMinor отклоняется, поэтому TotalMinor не переполняет int64.
func CalculateTotals(items []models.CartItem) (Totals, error) {
	const op = "money.CalculateTotals"
	subtotal := decimal.Zero
	for _, item := range items {
		line, err := LineAmount(item)
		if err != nil {
			return Totals{}, fmt.Errorf("%s: %w", op, err)
		}
		subtotal = subtotal.Add(line)
	}
	tax := subtotal.Mul(TaxRate).Round(2)
	total := subtotal.Add(tax)
	if total.GreaterThan(maxCharge) {
		return Totals{}, fmt.Errorf("%s: %w: total %s exceeds the maximum charge", op, models.ErrInvalidCartItem, Format(total))
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    total,
	}, nil
}

// ToMinor переводит сумму в минимальные единицы валюты.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor переводит минимальные единицы обратно в сумму.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Format форматирует сумму с двумя знаками после точки.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
