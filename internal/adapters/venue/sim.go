package venue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

func init() {
	Register("sim", func(s Settings) (ports.Venue, error) {
		return NewSim(s.Pair), nil
	})
}

// Sim is an in-memory venue for dry runs: orders rest on a synthetic book
// around a fixed mid price. An order that crosses the mid fills whole,
// instantly, at its own price.
type Sim struct {
	pair string

	mu      sync.Mutex
	mid     float64
	balance domain.BalanceSummary
	seq     int
	open    map[string]domain.Order
	trades  []domain.UserTrade
	minSize float64
}

// NewSim creates a simulated venue with a 10k fiat / 10 crypto account and a
// mid price of 1000.
func NewSim(pair string) *Sim {
	return &Sim{
		pair: pair,
		mid:  1000,
		balance: domain.BalanceSummary{
			Crypto: domain.Balance{Total: 10, Available: 10},
			Fiat:   domain.Balance{Total: 10_000, Available: 10_000},
			Fee:    0.5,
		},
		open:    make(map[string]domain.Order),
		minSize: 0.001,
	}
}

func (s *Sim) Name() string { return "sim" }
func (s *Sim) Pair() string { return s.pair }

func (s *Sim) Balance(context.Context) (domain.BalanceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Sim) OrderBook(context.Context) (domain.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := domain.OrderBook{Timestamp: time.Now()}
	for i := 1; i <= 5; i++ {
		step := s.mid * 0.001 * float64(i)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: s.mid - step, Quantity: 2})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: s.mid + step, Quantity: 2})
	}
	return book, nil
}

func (s *Sim) Transactions(context.Context) ([]domain.MarketTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A steady synthetic tape keeps the book from ever looking stale.
	now := time.Now()
	trades := make([]domain.MarketTrade, 5)
	for i := range trades {
		trades[i] = domain.MarketTrade{
			ID:        fmt.Sprintf("tape-%d", i),
			Price:     s.mid,
			Quantity:  0.5,
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		}
	}
	return trades, nil
}

func (s *Sim) Trades(context.Context) ([]domain.UserTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserTrade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *Sim) Orders(context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.open))
	for _, o := range s.open {
		out = append(out, o)
	}
	return out, nil
}

func (s *Sim) PlaceOrder(_ context.Context, side domain.Side, price, quantity float64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	order := domain.Order{
		ID:        "sim-" + strconv.Itoa(s.seq),
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.Now(),
		Status:    domain.OrderOpen,
	}

	crosses := (side == domain.SideBuy && price >= s.mid) ||
		(side == domain.SideSell && price <= s.mid)
	if crosses {
		s.fill(order)
		return order, nil
	}
	s.open[order.ID] = order
	return order, nil
}

func (s *Sim) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, orderID) // already-terminal orders are not an error
	return nil
}

func (s *Sim) EnoughOrderSize(quantity, _ float64, _ domain.Side) bool {
	return quantity >= s.minSize
}

func (s *Sim) AmountAndQuantity(_ context.Context, orderID string) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var amount, quantity float64
	for _, t := range s.trades {
		if t.OrderID == orderID {
			amount += t.Fiat
			quantity += t.Crypto
		}
	}
	return amount, quantity, nil
}

// fill books an instant full execution at the order price.
func (s *Sim) fill(order domain.Order) {
	fiat := order.Price * order.Quantity
	if order.Side == domain.SideBuy {
		s.balance.Fiat.Total -= fiat
		s.balance.Fiat.Available -= fiat
		s.balance.Crypto.Total += order.Quantity
		s.balance.Crypto.Available += order.Quantity
	} else {
		s.balance.Crypto.Total -= order.Quantity
		s.balance.Crypto.Available -= order.Quantity
		s.balance.Fiat.Total += fiat
		s.balance.Fiat.Available += fiat
	}
	s.seq++
	s.trades = append(s.trades, domain.UserTrade{
		ID:        "sim-trade-" + strconv.Itoa(s.seq),
		OrderID:   order.ID,
		Fiat:      fiat,
		Crypto:    order.Quantity,
		Price:     order.Price,
		Side:      order.Side,
		Pair:      s.pair,
		Timestamp: time.Now(),
	})
}
