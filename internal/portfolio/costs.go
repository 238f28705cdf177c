package portfolio

// CostModel prices the frictions of a fill: a proportional commission on
// notional and a proportional slippage against the trader.
type CostModel struct {
	CommissionRate float64
	SlippageRate   float64
}

// Commission returns the fee charged on an order of the given notional.
func (c CostModel) Commission(orderValue float64) float64 {
	return orderValue * c.CommissionRate
}

// BuyPrice returns the fill price of a buy quoted at price.
func (c CostModel) BuyPrice(price float64) float64 {
	return price * (1 + c.SlippageRate)
}

// SellPrice returns the fill price of a sell quoted at price.
func (c CostModel) SellPrice(price float64) float64 {
	return price * (1 - c.SlippageRate)
}
