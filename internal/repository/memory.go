package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Транзакции выполняются по одной,
// изменения копятся в транзакции и применяются только при успешном завершении.
type MemoryRepository struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	users       map[string]model.User
	products    map[string]model.Product
	orders      map[string]model.Order
	withdrawals map[string]model.Withdrawal
	complaints  map[string]model.Complaint
	payments    map[string]model.Payment
	deposits    []model.Deposit
	violations  []model.Violation
}

var _ Store = (*MemoryRepository)(nil)

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[string]model.User),
		products:    make(map[string]model.Product),
		orders:      make(map[string]model.Order),
		withdrawals: make(map[string]model.Withdrawal),
		complaints:  make(map[string]model.Complaint),
		payments:    make(map[string]model.Payment),
	}
}

// Close ничего не делает и нужен для соответствия Store.
func (r *MemoryRepository) Close() error { return nil }

// WithTx выполняет fn в транзакции.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		repo:        r,
		users:       make(map[string]model.User),
		products:    make(map[string]model.Product),
		orders:      make(map[string]model.Order),
		withdrawals: make(map[string]model.Withdrawal),
		complaints:  make(map[string]model.Complaint),
		payments:    make(map[string]model.Payment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range tx.users {
		r.users[id] = v
	}
	for id, v := range tx.products {
		r.products[id] = v
	}
	for id, v := range tx.orders {
		r.orders[id] = v
	}
	for id, v := range tx.withdrawals {
		r.withdrawals[id] = v
	}
	for id, v := range tx.complaints {
		r.complaints[id] = v
	}
	for ref, v := range tx.payments {
		r.payments[ref] = v
	}
	r.deposits = append(r.deposits, tx.deposits...)
	r.violations = append(r.violations, tx.violations...)
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	return &u, nil
}

// GetUserByPiID возвращает пользователя по идентификатору в Pi Network.
func (r *MemoryRepository) GetUserByPiID(_ context.Context, piUserID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.PiUserID == piUserID {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: pi user %s", model.ErrNotFound, piUserID)
}

// GetProduct возвращает товар по идентификатору.
func (r *MemoryRepository) GetProduct(_ context.Context, id string) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, id)
	}
	return &p, nil
}

// ListProducts возвращает товары, новые первыми.
func (r *MemoryRepository) ListProducts(_ context.Context, filter ProductFilter) ([]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Product
	for _, p := range r.products {
		if filter.SellerID != "" && p.SellerID != filter.SellerID {
			continue
		}
		if filter.OnlyPurchasable && !p.Purchasable() {
			continue
		}
		if filter.OnlyPending && p.Approved {
			continue
		}
		res = append(res, p)
	}
	slices.SortFunc(res, func(a, b model.Product) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return res, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
	}
	return &o, nil
}

// ListOrders возвращает заказы, новые первыми.
func (r *MemoryRepository) ListOrders(_ context.Context, filter OrderFilter) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Order
	for _, o := range r.orders {
		if filter.match(&o) {
			res = append(res, o)
		}
	}
	slices.SortFunc(res, func(a, b model.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return res, nil
}

// ListShippedBefore возвращает отправленные заказы, ожидающие подтверждения дольше cutoff.
func (r *MemoryRepository) ListShippedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, o := range r.orders {
		if o.Status == model.OrderStatusShipped && o.ShippedAt != nil && !o.ShippedAt.After(cutoff) {
			ids = append(ids, o.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListWithdrawals возвращает заявки пользователя или все заявки, если userID пуст.
func (r *MemoryRepository) ListWithdrawals(_ context.Context, userID string) ([]model.Withdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Withdrawal
	for _, w := range r.withdrawals {
		if userID == "" || w.UserID == userID {
			res = append(res, w)
		}
	}
	slices.SortFunc(res, func(a, b model.Withdrawal) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return res, nil
}

// ListDeposits возвращает журнал пополнений.
func (r *MemoryRepository) ListDeposits(_ context.Context, userID string) ([]model.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Deposit
	for i := len(r.deposits) - 1; i >= 0; i-- {
		if userID == "" || r.deposits[i].UserID == userID {
			res = append(res, r.deposits[i])
		}
	}
	return res, nil
}

// ListViolations возвращает журнал нарушений.
func (r *MemoryRepository) ListViolations(_ context.Context, userID string) ([]model.Violation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Violation
	for i := len(r.violations) - 1; i >= 0; i-- {
		if userID == "" || r.violations[i].UserID == userID {
			res = append(res, r.violations[i])
		}
	}
	return res, nil
}

// ListComplaints возвращает жалобы покупателя или все жалобы.
func (r *MemoryRepository) ListComplaints(_ context.Context, buyerID string) ([]model.Complaint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []model.Complaint
	for _, c := range r.complaints {
		if buyerID == "" || c.BuyerID == buyerID {
			res = append(res, c)
		}
	}
	slices.SortFunc(res, func(a, b model.Complaint) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return res, nil
}

func (f OrderFilter) match(o *model.Order) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && o.SellerID != f.SellerID {
		return false
	}
	if f.ProductID != "" && o.ProductID != f.ProductID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

type memoryTx struct {
	repo *MemoryRepository

	users       map[string]model.User
	products    map[string]model.Product
	orders      map[string]model.Order
	withdrawals map[string]model.Withdrawal
	complaints  map[string]model.Complaint
	payments    map[string]model.Payment
	deposits    []model.Deposit
	violations  []model.Violation
}

func (t *memoryTx) CreateUser(ctx context.Context, u *model.User) error {
	if _, err := t.repo.GetUserByPiID(ctx, u.PiUserID); err == nil {
		return fmt.Errorf("%w: %s", ErrUserExists, u.PiUserID)
	}
	for _, staged := range t.users {
		if staged.PiUserID == u.PiUserID {
			return fmt.Errorf("%w: %s", ErrUserExists, u.PiUserID)
		}
	}
	t.users[u.ID] = *u
	return nil
}

func (t *memoryTx) GetUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	if u, ok := t.users[id]; ok {
		return &u, nil
	}
	return t.repo.GetUser(ctx, id)
}

func (t *memoryTx) UpdateUser(ctx context.Context, u *model.User) error {
	if _, err := t.GetUserForUpdate(ctx, u.ID); err != nil {
		return err
	}
	t.users[u.ID] = *u
	return nil
}

func (t *memoryTx) CreateProduct(_ context.Context, p *model.Product) error {
	t.products[p.ID] = *p
	return nil
}

func (t *memoryTx) GetProductForUpdate(ctx context.Context, id string) (*model.Product, error) {
	if p, ok := t.products[id]; ok {
		return &p, nil
	}
	return t.repo.GetProduct(ctx, id)
}

func (t *memoryTx) UpdateProduct(ctx context.Context, p *model.Product) error {
	if _, err := t.GetProductForUpdate(ctx, p.ID); err != nil {
		return err
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: product %s stock %d", model.ErrInvalidState, p.ID, p.Stock)
	}
	t.products[p.ID] = *p
	return nil
}

func (t *memoryTx) CreateOrder(_ context.Context, o *model.Order) error {
	t.orders[o.ID] = *o
	return nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	if o, ok := t.orders[id]; ok {
		return &o, nil
	}
	return t.repo.GetOrder(ctx, id)
}

func (t *memoryTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if _, err := t.GetOrderForUpdate(ctx, o.ID); err != nil {
		return err
	}
	t.orders[o.ID] = *o
	return nil
}

func (t *memoryTx) CountActiveOrders(ctx context.Context, filter OrderFilter) (int, error) {
	orders, err := t.repo.ListOrders(ctx, filter)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(orders))
	n := 0
	for _, o := range orders {
		if staged, ok := t.orders[o.ID]; ok {
			o = staged
		}
		seen[o.ID] = true
		if o.Active() {
			n++
		}
	}
	for id, o := range t.orders {
		if !seen[id] && filter.match(&o) && o.Active() {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) CreateDeposit(_ context.Context, d *model.Deposit) error {
	t.deposits = append(t.deposits, *d)
	return nil
}

func (t *memoryTx) CreateViolation(_ context.Context, v *model.Violation) error {
	t.violations = append(t.violations, *v)
	return nil
}

func (t *memoryTx) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	t.withdrawals[w.ID] = *w
	return nil
}

func (t *memoryTx) GetWithdrawalForUpdate(_ context.Context, id string) (*model.Withdrawal, error) {
	if w, ok := t.withdrawals[id]; ok {
		return &w, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	w, ok := t.repo.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, id)
	}
	return &w, nil
}

func (t *memoryTx) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if _, err := t.GetWithdrawalForUpdate(ctx, w.ID); err != nil {
		return err
	}
	t.withdrawals[w.ID] = *w
	return nil
}

func (t *memoryTx) CreateComplaint(_ context.Context, c *model.Complaint) error {
	t.complaints[c.ID] = *c
	return nil
}

func (t *memoryTx) GetComplaintForUpdate(_ context.Context, id string) (*model.Complaint, error) {
	if c, ok := t.complaints[id]; ok {
		return &c, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	c, ok := t.repo.complaints[id]
	if !ok {
		return nil, fmt.Errorf("%w: complaint %s", model.ErrNotFound, id)
	}
	return &c, nil
}

func (t *memoryTx) UpdateComplaint(ctx context.Context, c *model.Complaint) error {
	if _, err := t.GetComplaintForUpdate(ctx, c.ID); err != nil {
		return err
	}
	t.complaints[c.ID] = *c
	return nil
}

func (t *memoryTx) ClaimPayment(_ context.Context, p *model.Payment) error {
	if _, ok := t.payments[p.Ref]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicatePayment, p.Ref)
	}
	t.repo.mu.RLock()
	_, exists := t.repo.payments[p.Ref]
	t.repo.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicatePayment, p.Ref)
	}
	t.payments[p.Ref] = *p
	return nil
}
