package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Mock is an in-memory Client for tests and offline review runs. Prices
// are set explicitly; unknown symbols error the way the gateway would.
type Mock struct {
	mu        sync.Mutex
	prices    map[string]float64
	bars      map[string][]Bar
	portfolio Portfolio
}

func NewMock() *Mock {
	return &Mock{
		prices: map[string]float64{},
		bars:   map[string][]Bar{},
		portfolio: Portfolio{
			Cash:      decimal.NewFromInt(100000),
			Value:     decimal.NewFromInt(100000),
			Positions: map[string]float64{},
		},
	}
}

func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *Mock) SetBars(symbol string, bars []Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

func (m *Mock) SetPortfolio(p Portfolio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio = p
}

func (m *Mock) Quote(_ context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("quote %s: unknown symbol", symbol)
	}
	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (m *Mock) Bars(_ context.Context, symbol string, start, end time.Time, limit int) ([]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bar
	for _, b := range m.bars[symbol] {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Mock) Portfolio(_ context.Context) (Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolio, nil
}
