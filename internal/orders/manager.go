package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/store"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

var (
	// ErrOrdersDisabled is returned by Submit while the order kill-switch is off.
	// The order stays pending.
	ErrOrdersDisabled = errors.New("orders: submission disabled")

	// ErrInvalidOrder is returned by Place for a malformed request.
	ErrInvalidOrder = errors.New("orders: invalid order")

	// ErrUnknownOrder is returned when a reference matches no local order.
	ErrUnknownOrder = errors.New("orders: unknown order")

	// ErrCancelRejected is returned when the exchange answers a cancel without
	// confirming it.
	ErrCancelRejected = errors.New("orders: cancel not confirmed")
)

// Exchange is the subset of the REST client the manager drives.
type Exchange interface {
	NewOrder(ctx context.Context, req api.NewOrderRequest) (*api.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID int64) (*api.OrderStatus, error)
	CancelAllOrders(ctx context.Context) (*api.CancelAllResponse, error)
	ActiveOrders(ctx context.Context) ([]api.OrderStatus, error)
}

// Config holds manager configuration.
type Config struct {
	Enabled     bool // Order submission kill-switch
	Concurrency int  // Parallel cancels in CancelAll (default: 4)
}

// DefaultConfig returns sensible defaults. Submission starts disabled.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
	}
}

// PlaceRequest describes a new limit order.
type PlaceRequest struct {
	Market string // Canonical or native market
	Side   model.Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Ref identifies one order by local id, external id, or a loaded value.
type Ref struct {
	LocalID uuid.UUID
	OrderID string // With or without the "bitfinex|" prefix
	Order   *model.Order
}

// ByLocalID references an order by its local id.
func ByLocalID(id uuid.UUID) Ref { return Ref{LocalID: id} }

// ByOrderID references an order by its exchange id.
func ByOrderID(id string) Ref { return Ref{OrderID: id} }

// ByOrder references an already loaded order.
func ByOrder(o model.Order) Ref { return Ref{Order: &o} }

// Manager places, cancels and reconciles orders.
type Manager struct {
	cfg     Config
	ex      Exchange
	store   store.Store
	codec   *symbol.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec sets the symbol codec. Defaults to symbol.Default.
func WithCodec(c *symbol.Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// NewManager creates an order manager.
func NewManager(cfg Config, ex Exchange, st store.Store, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	mgr := &Manager{
		cfg:     cfg,
		ex:      ex,
		store:   st,
		codec:   symbol.Default,
		metrics: m,
		logger:  logger.With("component", "orders"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Place records a pending order locally and submits it.
// The returned order reflects the local state after submission; a disabled
// kill-switch or a failed submission leaves it pending.
func (m *Manager) Place(ctx context.Context, req PlaceRequest) (model.Order, error) {
	order, err := m.newOrder(req)
	if err != nil {
		m.metrics.ObserveOrderAction("place", "invalid")
		return model.Order{}, err
	}

	if err := m.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertOrder(ctx, order)
	}); err != nil {
		m.metrics.ObserveOrderAction("place", "error")
		return model.Order{}, fmt.Errorf("record order: %w", err)
	}
	m.metrics.ObserveOrderAction("place", "ok")

	return m.Submit(ctx, order.LocalID)
}

func (m *Manager) newOrder(req PlaceRequest) (model.Order, error) {
	b, q, err := m.codec.ParseMarket(req.Market)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !req.Side.Valid() {
		return model.Order{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}
	if !req.Price.IsPositive() || !req.Amount.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: price and amount must be positive", ErrInvalidOrder)
	}
	return model.Order{
		LocalID:        uuid.New(),
		Exchange:       model.Exchange,
		Market:         b + "_" + q,
		Side:           req.Side,
		Price:          req.Price,
		Amount:         req.Amount,
		ExecutedAmount: decimal.Zero,
		State:          model.OrderPending,
		CreatedAt:      m.now().UTC(),
	}, nil
}

// Submit sends a pending order to the exchange. Orders that are no longer
// pending are returned unchanged.
func (m *Manager) Submit(ctx context.Context, localID uuid.UUID) (model.Order, error) {
	order, err := m.load(ctx, ByLocalID(localID))
	if err != nil {
		return model.Order{}, err
	}
	if order.State != model.OrderPending || order.OrderID != "" {
		return order, nil
	}
	if !m.cfg.Enabled {
		m.metrics.ObserveOrderAction("submit", "disabled")
		return order, ErrOrdersDisabled
	}

	resp, err := m.ex.NewOrder(ctx, api.NewOrderRequest{
		Symbol: m.codec.UnformatMarket(order.Market),
		Amount: order.Amount,
		Price:  order.Price,
		Side:   order.Side.ExchangeSide(),
		Type:   api.DefaultOrderType,
	})
	if err != nil {
		m.metrics.ObserveOrderAction("submit", "error")
		return order, fmt.Errorf("submit order %s: %w", order.LocalID, err)
	}
	if !resp.IsLive {
		m.metrics.ObserveOrderAction("submit", "rejected")
		m.logger.Warn("order not accepted", "local_id", order.LocalID, "market", order.Market)
		return order, nil
	}

	externalID := resp.ExternalID()
	var accepted model.Order
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrder(ctx, order.LocalID)
		if err != nil {
			return err
		}

		// The stream or a reconcile may have recorded the accepted order
		// under a fresh local id before this response arrived.
		dup, err := tx.GetOrderByOrderID(ctx, model.Exchange, externalID)
		switch {
		case err == nil && dup.LocalID != current.LocalID:
			if err := tx.DeleteOrder(ctx, dup.LocalID); err != nil {
				return err
			}
			current.ExecutedAmount = dup.ExecutedAmount
			if dup.State == model.OrderClosed {
				current.State = model.OrderClosed
			}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}

		current.OrderID = externalID
		if current.State == model.OrderPending {
			current.State = model.OrderOpen
		}
		accepted = current
		return tx.UpdateOrder(ctx, current)
	})
	if err != nil {
		m.metrics.ObserveOrderAction("submit", "error")
		return order, fmt.Errorf("record accepted order %s as %s: %w", order.LocalID, externalID, err)
	}
	order = accepted

	m.metrics.ObserveOrderAction("submit", "ok")
	m.logger.Info("order submitted",
		"local_id", order.LocalID,
		"order_id", order.OrderID,
		"market", order.Market,
		"side", order.Side,
	)
	return order, nil
}

// Cancel cancels one order. An order the exchange reports as already closed is
// closed locally and counts as success. A pending order the exchange never
// accepted is closed locally without a request.
func (m *Manager) Cancel(ctx context.Context, ref Ref) (model.Order, error) {
	order, err := m.load(ctx, ref)
	if err != nil {
		return model.Order{}, err
	}
	if order.State == model.OrderClosed {
		return order, nil
	}
	if order.OrderID == "" {
		m.metrics.ObserveOrderAction("cancel", "local")
		return m.close(ctx, order)
	}

	id, err := strconv.ParseInt(order.OrderID, 10, 64)
	if err != nil {
		m.metrics.ObserveOrderAction("cancel", "invalid")
		return order, fmt.Errorf("cancel order %s: bad exchange id %q: %w", order.LocalID, order.OrderID, err)
	}

	resp, err := m.ex.CancelOrder(ctx, id)
	switch {
	case api.IsAlreadyClosed(err):
		m.metrics.ObserveOrderAction("cancel", "already_closed")
	case err != nil:
		m.metrics.ObserveOrderAction("cancel", "error")
		return order, err
	case resp.ID != id:
		m.metrics.ObserveOrderAction("cancel", "rejected")
		return order, fmt.Errorf("%w: order %s answered with id %d", ErrCancelRejected, order.OrderID, resp.ID)
	default:
		m.metrics.ObserveOrderAction("cancel", "ok")
	}

	return m.close(ctx, order)
}

func (m *Manager) close(ctx context.Context, order model.Order) (model.Order, error) {
	order.State = model.OrderClosed
	if err := m.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateOrder(ctx, order)
	}); err != nil {
		return order, fmt.Errorf("close order %s: %w", order.LocalID, err)
	}
	m.logger.Info("order closed", "local_id", order.LocalID, "order_id", order.OrderID)
	return order, nil
}

// Get loads one order.
func (m *Manager) Get(ctx context.Context, ref Ref) (model.Order, error) {
	return m.load(ctx, ref)
}

// List returns local orders matching f, restricted to this exchange.
func (m *Manager) List(ctx context.Context, f store.OrderFilter) ([]model.Order, error) {
	f.Exchange = model.Exchange
	var out []model.Order
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListOrders(ctx, f)
		if err != nil {
			return err
		}
		return store.ErrRollback
	})
	return out, err
}

func (m *Manager) load(ctx context.Context, ref Ref) (model.Order, error) {
	localID, orderID := ref.LocalID, model.NormalizeOrderID(ref.OrderID)
	if ref.Order != nil {
		localID, orderID = ref.Order.LocalID, model.NormalizeOrderID(ref.Order.OrderID)
	}
	if localID == uuid.Nil && orderID == "" {
		return model.Order{}, fmt.Errorf("%w: empty reference", ErrUnknownOrder)
	}

	var order model.Order
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if localID != uuid.Nil {
			order, err = tx.GetOrder(ctx, localID)
		} else {
			order, err = tx.GetOrderByOrderID(ctx, model.Exchange, orderID)
		}
		if err != nil {
			return err
		}
		return store.ErrRollback
	})
	if errors.Is(err, store.ErrNotFound) {
		if localID != uuid.Nil {
			return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, localID)
		}
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return order, err
}
