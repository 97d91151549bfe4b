package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/pi-marketplace/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:        pool,
		retryDelays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithTx выполняет fn в транзакции READ COMMITTED; записи, прочитанные через ...ForUpdate,
// заблокированы до коммита. При конфликте сериализации или дедлоке транзакция повторяется целиком.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.retryDelays) {
			break
		}

		timer := time.NewTimer(r.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, pi_user_id, username, role, balance_points, frozen_points, deposit_points, violations, created_at, updated_at`

const productColumns = `id, seller_id, title, description, price_points, stock, sold_count, active, approved, created_at, updated_at`

const orderColumns = `id, product_id, buyer_id, seller_id, amount_points, fee_points, escrow_points, status, settled,
	payment_ref, complaint_id, shipped_at, completed_at, settled_at, refunded_at, created_at, updated_at`

const withdrawalColumns = `id, user_id, amount_points, status, review_note, created_at, updated_at`

const complaintColumns = `id, order_id, buyer_id, seller_id, reason, status, decision, penalty_points,
	resolution_note, resolved_by, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.PiUserID, &u.Username, &role, &u.BalancePoints, &u.FrozenPoints,
		&u.DepositPoints, &u.Violations, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Description, &p.PricePoints, &p.Stock,
		&p.SoldCount, &p.Active, &p.Approved, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	if err := row.Scan(&o.ID, &o.ProductID, &o.BuyerID, &o.SellerID, &o.AmountPoints, &o.FeePoints,
		&o.EscrowPoints, &status, &o.Settled, &o.PaymentRef, &o.ComplaintID, &o.ShippedAt,
		&o.CompletedAt, &o.SettledAt, &o.RefundedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var w model.Withdrawal
	var status string
	if err := row.Scan(&w.ID, &w.UserID, &w.AmountPoints, &status, &w.ReviewNote, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Status = model.WithdrawalStatus(status)
	return &w, nil
}

func scanComplaint(row pgx.Row) (*model.Complaint, error) {
	var c model.Complaint
	var status string
	if err := row.Scan(&c.ID, &c.OrderID, &c.BuyerID, &c.SellerID, &c.Reason, &status, &c.Decision,
		&c.PenaltyPoints, &c.ResolutionNote, &c.ResolvedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = model.ComplaintStatus(status)
	return &c, nil
}

func getOne[T any](ctx context.Context, q querier, scan func(pgx.Row) (*T, error), what, id, query string, args ...any) (*T, error) {
	v, err := scan(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", model.ErrNotFound, what, id)
		}
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return v, nil
}

func listAll[T any](ctx context.Context, q querier, scan func(pgx.Row) (*T, error), what, query string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", what, err)
	}
	defer rows.Close()

	var res []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getOne(ctx, r.pool, scanUser, "user", id,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByPiID возвращает пользователя по идентификатору в Pi Network.
func (r *PostgresRepository) GetUserByPiID(ctx context.Context, piUserID string) (*model.User, error) {
	return getOne(ctx, r.pool, scanUser, "pi user", piUserID,
		`SELECT `+userColumns+` FROM users WHERE pi_user_id = $1`, piUserID)
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return getOne(ctx, r.pool, scanProduct, "product", id,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// ListProducts возвращает товары, новые первыми.
func (r *PostgresRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE ($1::text = '' OR seller_id = $1)`
	if filter.OnlyPurchasable {
		query += ` AND active AND approved AND stock > 0`
	}
	if filter.OnlyPending {
		query += ` AND NOT approved`
	}
	query += ` ORDER BY created_at DESC`
	return listAll(ctx, r.pool, scanProduct, "products", query, filter.SellerID)
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOne(ctx, r.pool, scanOrder, "order", id,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

const orderFilterWhere = ` WHERE ($1::text = '' OR buyer_id = $1)
	AND ($2::text = '' OR seller_id = $2)
	AND ($3::text = '' OR product_id = $3)
	AND ($4::text = '' OR status = $4)`

// ListOrders возвращает заказы, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	return listAll(ctx, r.pool, scanOrder, "orders",
		`SELECT `+orderColumns+` FROM orders`+orderFilterWhere+` ORDER BY created_at DESC`,
		filter.BuyerID, filter.SellerID, filter.ProductID, string(filter.Status))
}

// ListShippedBefore возвращает отправленные заказы, ожидающие подтверждения дольше cutoff.
func (r *PostgresRepository) ListShippedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM orders WHERE status = $1 AND shipped_at <= $2 ORDER BY shipped_at`,
		string(model.OrderStatusShipped), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("select shipped orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect shipped orders: %w", err)
	}
	return ids, nil
}

// ListWithdrawals возвращает заявки пользователя или все заявки, если userID пуст.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error) {
	return listAll(ctx, r.pool, scanWithdrawal, "withdrawals",
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE ($1::text = '' OR user_id = $1) ORDER BY created_at DESC`, userID)
}

// ListDeposits возвращает журнал пополнений.
func (r *PostgresRepository) ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error) {
	return listAll(ctx, r.pool, func(row pgx.Row) (*model.Deposit, error) {
		var d model.Deposit
		var kind string
		if err := row.Scan(&d.ID, &d.UserID, &kind, &d.AmountPoints, &d.PaymentRef, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Kind = model.DepositKind(kind)
		return &d, nil
	}, "deposits",
		`SELECT id, user_id, kind, amount_points, payment_ref, created_at
		 FROM deposits WHERE ($1::text = '' OR user_id = $1) ORDER BY created_at DESC`, userID)
}

// ListViolations возвращает журнал нарушений.
func (r *PostgresRepository) ListViolations(ctx context.Context, userID string) ([]model.Violation, error) {
	return listAll(ctx, r.pool, func(row pgx.Row) (*model.Violation, error) {
		var v model.Violation
		if err := row.Scan(&v.ID, &v.UserID, &v.Type, &v.PointsDeducted, &v.Note, &v.CreatedAt); err != nil {
			return nil, err
		}
		return &v, nil
	}, "violations",
		`SELECT id, user_id, type, points_deducted, note, created_at
		 FROM violations WHERE ($1::text = '' OR user_id = $1) ORDER BY created_at DESC`, userID)
}

// ListComplaints возвращает жалобы покупателя или все жалобы.
func (r *PostgresRepository) ListComplaints(ctx context.Context, buyerID string) ([]model.Complaint, error) {
	return listAll(ctx, r.pool, scanComplaint, "complaints",
		`SELECT `+complaintColumns+` FROM complaints WHERE ($1::text = '' OR buyer_id = $1) ORDER BY created_at DESC`, buyerID)
}

type pgTx struct {
	q querier
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (id, pi_user_id, username, role, balance_points, frozen_points, deposit_points, violations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.PiUserID, u.Username, string(u.Role), u.BalancePoints, u.FrozenPoints, u.DepositPoints,
		u.Violations, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.PiUserID)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	return getOne(ctx, t.q, scanUser, "user", id,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateUser(ctx context.Context, u *model.User) error {
	return execOne(ctx, t.q, "user", u.ID,
		`UPDATE users SET username = $2, role = $3, balance_points = $4, frozen_points = $5,
		 deposit_points = $6, violations = $7, updated_at = $8 WHERE id = $1`,
		u.ID, u.Username, string(u.Role), u.BalancePoints, u.FrozenPoints, u.DepositPoints, u.Violations, u.UpdatedAt)
}

func (t *pgTx) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.SellerID, p.Title, p.Description, p.PricePoints, p.Stock, p.SoldCount, p.Active, p.Approved,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*model.Product, error) {
	return getOne(ctx, t.q, scanProduct, "product", id,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *model.Product) error {
	return execOne(ctx, t.q, "product", p.ID,
		`UPDATE products SET title = $2, description = $3, price_points = $4, stock = $5, sold_count = $6,
		 active = $7, approved = $8, updated_at = $9 WHERE id = $1`,
		p.ID, p.Title, p.Description, p.PricePoints, p.Stock, p.SoldCount, p.Active, p.Approved, p.UpdatedAt)
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.ID, o.ProductID, o.BuyerID, o.SellerID, o.AmountPoints, o.FeePoints, o.EscrowPoints, string(o.Status),
		o.Settled, o.PaymentRef, o.ComplaintID, o.ShippedAt, o.CompletedAt, o.SettledAt, o.RefundedAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	return getOne(ctx, t.q, scanOrder, "order", id,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	return execOne(ctx, t.q, "order", o.ID,
		`UPDATE orders SET status = $2, settled = $3, complaint_id = $4, shipped_at = $5, completed_at = $6,
		 settled_at = $7, refunded_at = $8, updated_at = $9 WHERE id = $1`,
		o.ID, string(o.Status), o.Settled, o.ComplaintID, o.ShippedAt, o.CompletedAt, o.SettledAt, o.RefundedAt, o.UpdatedAt)
}

func (t *pgTx) CountActiveOrders(ctx context.Context, filter OrderFilter) (int, error) {
	var n int
	err := t.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders`+orderFilterWhere+` AND status IN ('paid', 'shipped')`,
		filter.BuyerID, filter.SellerID, filter.ProductID, string(filter.Status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateDeposit(ctx context.Context, d *model.Deposit) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO deposits (id, user_id, kind, amount_points, payment_ref, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, string(d.Kind), d.AmountPoints, d.PaymentRef, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func (t *pgTx) CreateViolation(ctx context.Context, v *model.Violation) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO violations (id, user_id, type, points_deducted, note, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.UserID, v.Type, v.PointsDeducted, v.Note, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO withdrawals (`+withdrawalColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.UserID, w.AmountPoints, string(w.Status), w.ReviewNote, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error) {
	return getOne(ctx, t.q, scanWithdrawal, "withdrawal", id,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	return execOne(ctx, t.q, "withdrawal", w.ID,
		`UPDATE withdrawals SET status = $2, review_note = $3, updated_at = $4 WHERE id = $1`,
		w.ID, string(w.Status), w.ReviewNote, w.UpdatedAt)
}

func (t *pgTx) CreateComplaint(ctx context.Context, c *model.Complaint) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO complaints (`+complaintColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.OrderID, c.BuyerID, c.SellerID, c.Reason, string(c.Status), c.Decision, c.PenaltyPoints,
		c.ResolutionNote, c.ResolvedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert complaint: %w", err)
	}
	return nil
}

func (t *pgTx) GetComplaintForUpdate(ctx context.Context, id string) (*model.Complaint, error) {
	return getOne(ctx, t.q, scanComplaint, "complaint", id,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateComplaint(ctx context.Context, c *model.Complaint) error {
	return execOne(ctx, t.q, "complaint", c.ID,
		`UPDATE complaints SET status = $2, decision = $3, penalty_points = $4, resolution_note = $5,
		 resolved_by = $6, updated_at = $7 WHERE id = $1`,
		c.ID, string(c.Status), c.Decision, c.PenaltyPoints, c.ResolutionNote, c.ResolvedBy, c.UpdatedAt)
}

func (t *pgTx) ClaimPayment(ctx context.Context, p *model.Payment) error {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO payments (ref, purpose, user_id, amount_points, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (ref) DO NOTHING`,
		p.Ref, string(p.Purpose), p.UserID, p.AmountPoints, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("claim payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrDuplicatePayment, p.Ref)
	}
	return nil
}

func execOne(ctx context.Context, q querier, what, id, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, what, id)
	}
	return nil
}
