package services

import (
	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
)

// Subtotal sums unit price × quantity over the cart lines.
func Subtotal(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice().Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// CalculateTotals derives the review totals. OrderTotal is always Subtotal + DeliveryFee.
func CalculateTotals(cart domain.Cart, deliveryFee decimal.Decimal) domain.Totals {
	subtotal := Subtotal(cart.Items)
	return domain.Totals{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		OrderTotal:  subtotal.Add(deliveryFee),
	}
}
