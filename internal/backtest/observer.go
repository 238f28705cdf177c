package backtest

import "tradesim/internal/domain"

// Observer receives run events as they happen. Calls are made synchronously
// from the backtest loop.
type Observer interface {
	OnSignal(sig domain.Signal)
	OnTrade(trade domain.Trade)
	OnEquityPoint(point domain.EquityPoint)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Signal      func(domain.Signal)
	Trade       func(domain.Trade)
	EquityPoint func(domain.EquityPoint)
}

func (f ObserverFuncs) OnSignal(sig domain.Signal) {
	if f.Signal != nil {
		f.Signal(sig)
	}
}

func (f ObserverFuncs) OnTrade(trade domain.Trade) {
	if f.Trade != nil {
		f.Trade(trade)
	}
}

func (f ObserverFuncs) OnEquityPoint(point domain.EquityPoint) {
	if f.EquityPoint != nil {
		f.EquityPoint(point)
	}
}

type nopObserver struct{}

func (nopObserver) OnSignal(domain.Signal)           {}
func (nopObserver) OnTrade(domain.Trade)             {}
func (nopObserver) OnEquityPoint(domain.EquityPoint) {}
