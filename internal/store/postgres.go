package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// WithTx implements Store.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}
	// No-op once committed.
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() {
	p.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

// -----------------------------------------------------------------------------
// Tickers
// -----------------------------------------------------------------------------

func (t *pgTx) UpsertTicker(ctx context.Context, s model.TickerSnapshot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickers (exchange, market, bid, ask, last, high, low, volume, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, market) DO UPDATE SET
			bid = EXCLUDED.bid, ask = EXCLUDED.ask, last = EXCLUDED.last,
			high = EXCLUDED.high, low = EXCLUDED.low, volume = EXCLUDED.volume,
			observed_at = EXCLUDED.observed_at`,
		s.Exchange, s.Market,
		numericFromDecimal(s.Bid), numericFromDecimal(s.Ask), numericFromDecimal(s.Last),
		numericFromDecimal(s.High), numericFromDecimal(s.Low), numericFromDecimal(s.Volume),
		s.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert ticker %s: %w", s.Market, err)
	}
	return nil
}

func (t *pgTx) GetTicker(ctx context.Context, exchange, market string) (model.TickerSnapshot, error) {
	var (
		s                                 = model.TickerSnapshot{Exchange: exchange, Market: market}
		bid, ask, last, high, low, volume pgtype.Numeric
	)
	err := t.tx.QueryRow(ctx, `
		SELECT bid, ask, last, high, low, volume, observed_at
		FROM tickers WHERE exchange = $1 AND market = $2`,
		exchange, market,
	).Scan(&bid, &ask, &last, &high, &low, &volume, &s.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TickerSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.TickerSnapshot{}, fmt.Errorf("get ticker %s: %w", market, err)
	}
	if err := scanDecimals(
		[]pgtype.Numeric{bid, ask, last, high, low, volume},
		[]*decimal.Decimal{&s.Bid, &s.Ask, &s.Last, &s.High, &s.Low, &s.Volume},
	); err != nil {
		return model.TickerSnapshot{}, fmt.Errorf("get ticker %s: %w", market, err)
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Balances
// -----------------------------------------------------------------------------

func (t *pgTx) UpsertBalance(ctx context.Context, b model.Balance) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO balances (exchange, currency, total, available, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (exchange, currency) DO UPDATE SET
			total = EXCLUDED.total, available = EXCLUDED.available, updated_at = EXCLUDED.updated_at
		WHERE (balances.total, balances.available) IS DISTINCT FROM (EXCLUDED.total, EXCLUDED.available)`,
		b.Exchange, b.Currency, numericFromDecimal(b.Total), numericFromDecimal(b.Available), b.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert balance %s: %w", b.Currency, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) SetBalanceTotal(ctx context.Context, exchange, currency string, total decimal.Decimal, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO balances (exchange, currency, total, available, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (exchange, currency) DO UPDATE SET
			total = EXCLUDED.total, updated_at = EXCLUDED.updated_at
		WHERE balances.total IS DISTINCT FROM EXCLUDED.total`,
		exchange, currency, numericFromDecimal(total), at,
	)
	if err != nil {
		return false, fmt.Errorf("set balance total %s: %w", currency, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) ListBalances(ctx context.Context, exchange string) ([]model.Balance, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT currency, total, available, updated_at
		FROM balances WHERE exchange = $1 ORDER BY currency`, exchange)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []model.Balance
	for rows.Next() {
		b := model.Balance{Exchange: exchange}
		var total, available pgtype.Numeric
		if err := rows.Scan(&b.Currency, &total, &available, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if err := scanDecimals([]pgtype.Numeric{total, available}, []*decimal.Decimal{&b.Total, &b.Available}); err != nil {
			return nil, fmt.Errorf("scan balance %s: %w", b.Currency, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

func (t *pgTx) InsertTrade(ctx context.Context, tr model.Trade) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO trades (exchange, trade_id, market, side, amount, price, fee, fee_side, traded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, trade_id) DO NOTHING`,
		tr.Exchange, tr.TradeID, tr.Market, string(tr.Side),
		numericFromDecimal(tr.Amount), numericFromDecimal(tr.Price), numericFromDecimal(tr.Fee),
		string(tr.FeeSide), tr.Time,
	)
	if err != nil {
		return false, fmt.Errorf("insert trade %s: %w", tr.TradeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) TradeExists(ctx context.Context, exchange, tradeID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trades WHERE exchange = $1 AND trade_id = $2)`,
		exchange, tradeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("trade exists %s: %w", tradeID, err)
	}
	return exists, nil
}

func (t *pgTx) LatestTradeTime(ctx context.Context, exchange, market string) (time.Time, error) {
	var ts pgtype.Timestamptz
	err := t.tx.QueryRow(ctx,
		`SELECT max(traded_at) FROM trades WHERE exchange = $1 AND market = $2`,
		exchange, market,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest trade time %s: %w", market, err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// -----------------------------------------------------------------------------
// Movements
// -----------------------------------------------------------------------------

func (t *pgTx) InsertMovement(ctx context.Context, m model.Movement) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO movements (exchange, kind, ref_id, asset, amount, fee, address, description, txid, status, reference, moved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (exchange, kind, ref_id) DO NOTHING`,
		m.Exchange, string(m.Kind), m.RefID, m.Asset,
		numericFromDecimal(m.Amount), numericFromDecimal(m.Fee),
		m.Address, m.Description, m.TxID, string(m.Status), m.Reference, m.Time,
	)
	if err != nil {
		return false, fmt.Errorf("insert movement %s: %w", m.RefID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) MovementExists(ctx context.Context, exchange string, kind model.MovementKind, refID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM movements WHERE exchange = $1 AND kind = $2 AND ref_id = $3)`,
		exchange, string(kind), refID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("movement exists %s: %w", refID, err)
	}
	return exists, nil
}

func (t *pgTx) LatestMovementTime(ctx context.Context, exchange, asset string) (time.Time, error) {
	var ts pgtype.Timestamptz
	err := t.tx.QueryRow(ctx,
		`SELECT max(moved_at) FROM movements WHERE exchange = $1 AND asset = $2`,
		exchange, asset,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest movement time %s: %w", asset, err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

const orderColumns = `local_id, COALESCE(order_id, ''), exchange, market, side, price, amount, executed_amount, state, created_at`

func (t *pgTx) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (local_id, order_id, exchange, market, side, price, amount, executed_amount, state, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.LocalID, o.OrderID, o.Exchange, o.Market, string(o.Side),
		numericFromDecimal(o.Price), numericFromDecimal(o.Amount), numericFromDecimal(o.ExecutedAmount),
		string(o.State), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.LocalID, err)
	}
	return nil
}

func (t *pgTx) UpsertOrder(ctx context.Context, o model.Order) (bool, error) {
	if o.OrderID == "" {
		return false, errors.New("upsert order: order id required")
	}
	if o.LocalID == uuid.Nil {
		o.LocalID = uuid.New()
	}

	var localID uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (local_id, order_id, exchange, market, side, price, amount, executed_amount, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange, order_id) DO UPDATE SET
			market = EXCLUDED.market, side = EXCLUDED.side, price = EXCLUDED.price,
			amount = EXCLUDED.amount, executed_amount = EXCLUDED.executed_amount,
			state = EXCLUDED.state, updated_at = now()
		WHERE orders.state <> 'closed'
			AND (orders.market, orders.side, orders.price, orders.amount, orders.executed_amount, orders.state)
				IS DISTINCT FROM
				(EXCLUDED.market, EXCLUDED.side, EXCLUDED.price, EXCLUDED.amount, EXCLUDED.executed_amount, EXCLUDED.state)
		RETURNING local_id`,
		o.LocalID, o.OrderID, o.Exchange, o.Market, string(o.Side),
		numericFromDecimal(o.Price), numericFromDecimal(o.Amount), numericFromDecimal(o.ExecutedAmount),
		string(o.State), o.CreatedAt,
	).Scan(&localID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert order %s: %w", o.OrderID, err)
	}
	return true, nil
}

func (t *pgTx) SyncLiveOrder(ctx context.Context, o model.Order) (bool, bool, error) {
	if o.OrderID == "" {
		return false, false, errors.New("sync live order: order id required")
	}
	if o.LocalID == uuid.Nil {
		o.LocalID = uuid.New()
	}

	// xmax is zero only on a freshly inserted row version.
	var inserted bool
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (local_id, order_id, exchange, market, side, price, amount, executed_amount, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange, order_id) DO UPDATE SET
			market = EXCLUDED.market, side = EXCLUDED.side, price = EXCLUDED.price,
			amount = EXCLUDED.amount, executed_amount = EXCLUDED.executed_amount,
			state = EXCLUDED.state, updated_at = now()
		WHERE (orders.market, orders.side, orders.price, orders.amount, orders.executed_amount, orders.state)
			IS DISTINCT FROM
			(EXCLUDED.market, EXCLUDED.side, EXCLUDED.price, EXCLUDED.amount, EXCLUDED.executed_amount, EXCLUDED.state)
		RETURNING xmax = 0`,
		o.LocalID, o.OrderID, o.Exchange, o.Market, string(o.Side),
		numericFromDecimal(o.Price), numericFromDecimal(o.Amount), numericFromDecimal(o.ExecutedAmount),
		string(o.State), o.CreatedAt,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("sync live order %s: %w", o.OrderID, err)
	}
	return inserted, !inserted, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o model.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			order_id = NULLIF($2, ''), market = $3, side = $4, price = $5, amount = $6,
			executed_amount = $7,
			state = CASE WHEN state = 'closed' THEN 'closed' ELSE $8 END,
			updated_at = now()
		WHERE local_id = $1`,
		o.LocalID, o.OrderID, o.Market, string(o.Side),
		numericFromDecimal(o.Price), numericFromDecimal(o.Amount), numericFromDecimal(o.ExecutedAmount),
		string(o.State),
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.LocalID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, localID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE local_id = $1`, localID)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", localID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, localID uuid.UUID) (model.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE local_id = $1`, localID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", localID, err)
	}
	return o, nil
}

func (t *pgTx) GetOrderByOrderID(ctx context.Context, exchange, orderID string) (model.Order, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE exchange = $1 AND order_id = $2`,
		exchange, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o, nil
}

func (t *pgTx) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	where, args := orderWhere(f)
	rows, err := t.tx.Query(ctx,
		`SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at, local_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) CloseOrders(ctx context.Context, f OrderFilter) (int, error) {
	where, args := orderWhere(f)
	if where == "" {
		where = " WHERE state <> 'closed'"
	} else {
		where += " AND state <> 'closed'"
	}
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET state = 'closed', updated_at = now()`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("close orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// orderWhere renders f as a WHERE clause with positional arguments.
func orderWhere(f OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Exchange != "" {
		add("exchange = $%d", f.Exchange)
	}
	if f.Market != "" {
		add("market = $%d", f.Market)
	}
	if f.Side != "" {
		add("side = $%d", string(f.Side))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		add("state = ANY($%d)", states)
	}
	if f.WithOrderID {
		conds = append(conds, "order_id IS NOT NULL")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o                       model.Order
		side, state             string
		price, amount, executed pgtype.Numeric
	)
	if err := row.Scan(&o.LocalID, &o.OrderID, &o.Exchange, &o.Market, &side,
		&price, &amount, &executed, &state, &o.CreatedAt); err != nil {
		return model.Order{}, err
	}
	o.Side = model.Side(side)
	o.State = model.OrderState(state)
	if err := scanDecimals(
		[]pgtype.Numeric{price, amount, executed},
		[]*decimal.Decimal{&o.Price, &o.Amount, &o.ExecutedAmount},
	); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func scanDecimals(src []pgtype.Numeric, dst []*decimal.Decimal) error {
	for i := range src {
		d, err := decimalFromNumeric(src[i])
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}
