package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"optikpos/backend/internal/domain"
	"optikpos/backend/internal/sequence"
	"optikpos/backend/internal/store"
	"optikpos/backend/internal/xid"
)

// Store is the in-memory store.Repository used for dev mode and tests. The
// single mutex is the transaction boundary: every multi-step mutation
// validates against scratch state first and applies only once every step has
// passed, so a failed step leaves nothing behind.
type Store struct {
	mu                sync.RWMutex
	counters          map[string]int64
	customersByID     map[string]domain.Customer
	framesByID        map[string]domain.Frame
	invoicesByID      map[string]*domain.Invoice
	paymentsByInvoice map[string][]domain.Payment
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		counters:          make(map[string]int64),
		customersByID:     make(map[string]domain.Customer),
		framesByID:        make(map[string]domain.Frame),
		invoicesByID:      make(map[string]*domain.Invoice),
		paymentsByInvoice: make(map[string][]domain.Payment),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These are never
// used in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	customers := []domain.Customer{
		{ID: "cust-ayu-01", Name: "Ayu Prameswari", Phone: "+62-811-220-0191", Email: "ayu@example.com", CreatedAt: now},
		{ID: "cust-bagus-01", Name: "Bagus Santoso", Phone: "+62-812-118-4402", CreatedAt: now},
		{ID: "cust-citra-01", Name: "Citra Handayani", Phone: "+62-813-900-3310", Email: "citra@example.com", CreatedAt: now},
	}
	for _, c := range customers {
		s.customersByID[c.ID] = c
	}

	frames := []domain.Frame{
		{ID: "frame-aviator-01", Name: "Aviator Classic", Category: "metal", UnitPriceCents: 45000, Quantity: 12, LowStockThreshold: 3, CreatedAt: now},
		{ID: "frame-wayfarer-01", Name: "Wayfarer Matte", Category: "acetate", UnitPriceCents: 38000, Quantity: 8, LowStockThreshold: 3, CreatedAt: now},
		{ID: "frame-round-01", Name: "Round Titanium", Category: "titanium", UnitPriceCents: 92000, Quantity: 5, LowStockThreshold: 2, CreatedAt: now},
		{ID: "frame-cateye-01", Name: "Cat Eye Tortoise", Category: "acetate", UnitPriceCents: 41000, Quantity: 3, LowStockThreshold: 4, CreatedAt: now},
		{ID: "frame-kids-01", Name: "Kids Flex", Category: "tr90", UnitPriceCents: 27000, Quantity: 15, LowStockThreshold: 5, CreatedAt: now},
	}
	for _, f := range frames {
		s.framesByID[f.ID] = f
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *Store) CreateInvoice(_ context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if inv.CustomerID == "" || len(inv.Items) == 0 {
		return nil, store.ErrValidation
	}
	if inv.AdvancePaidCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[inv.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, inv.CustomerID)
	}

	// Reserve against scratch quantities first, in caller order, so a repeated
	// frame id sees earlier lines and a late failure leaves real stock intact.
	reserved := make(map[string]int, len(inv.Items))
	subtotalCents := int64(0)
	items := make([]domain.InvoiceItem, 0, len(inv.Items))
	for _, item := range inv.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 || strings.TrimSpace(item.Description) == "" {
			return nil, store.ErrValidation
		}

		if item.Type == domain.ItemTypeFrame {
			frame, ok := s.framesByID[item.FrameID]
			if !ok {
				return nil, fmt.Errorf("%w: frame %s", store.ErrNotFound, item.FrameID)
			}
			available := frame.Quantity - reserved[item.FrameID]
			if available < item.Qty {
				return nil, &store.InsufficientStockError{
					FrameID:     item.FrameID,
					Description: item.Description,
					Available:   available,
					Requested:   item.Qty,
				}
			}
			reserved[item.FrameID] += item.Qty
		}

		item.TotalCents = int64(item.Qty) * item.UnitPriceCents
		subtotalCents += item.TotalCents
		items = append(items, item)
	}

	for frameID, qty := range reserved {
		frame := s.framesByID[frameID]
		frame.Quantity -= qty
		s.framesByID[frameID] = frame
	}

	s.counters[sequence.SeriesInvoice]++
	seq := s.counters[sequence.SeriesInvoice]

	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.Date.IsZero() {
		inv.Date = time.Now().UTC()
	}
	inv.InvoiceNo = sequence.InvoiceNo(inv.Date.Year(), seq)
	inv.Items = items
	inv.SubtotalCents = subtotalCents
	if inv.AdvancePaidCents > subtotalCents {
		inv.AdvancePaidCents = subtotalCents
	}
	inv.TotalPaidCents = inv.AdvancePaidCents
	inv.PaymentStatus = domain.PaymentStatusFor(inv.SubtotalCents, inv.TotalPaidCents)

	stored := inv
	s.invoicesByID[inv.ID] = &stored
	return cloneInvoice(&stored), nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		invoices = append(invoices, *cloneInvoice(inv))
	}
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].Date.After(invoices[j].Date)
	})
	if len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

func (s *Store) RecordPayment(_ context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	if payment.InvoiceID == "" || payment.AmountCents < 1 {
		return nil, nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[payment.InvoiceID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, payment.InvoiceID)
	}

	remaining := inv.SubtotalCents - inv.TotalPaidCents
	if payment.AmountCents > remaining {
		return nil, nil, &store.OverpaymentError{
			InvoiceID:      inv.ID,
			RemainingCents: remaining,
			AttemptedCents: payment.AmountCents,
		}
	}

	s.counters[sequence.SeriesReceipt]++
	seq := s.counters[sequence.SeriesReceipt]

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}
	payment.ReceiptNo = sequence.ReceiptNo(payment.Date.Year(), seq)

	inv.TotalPaidCents += payment.AmountCents
	inv.PaymentStatus = domain.PaymentStatusFor(inv.SubtotalCents, inv.TotalPaidCents)
	s.paymentsByInvoice[inv.ID] = append(s.paymentsByInvoice[inv.ID], payment)

	saved := payment
	return &saved, cloneInvoice(inv), nil
}

func (s *Store) ListPaymentsByInvoice(_ context.Context, invoiceID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := s.paymentsByInvoice[invoiceID]
	out := make([]domain.Payment, len(payments))
	copy(out, payments)
	return out, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].Name < customers[j].Name
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrValidation
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetFrameByID(_ context.Context, id string) (*domain.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.framesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) ListFrames(_ context.Context) ([]domain.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedFrames(func(domain.Frame) bool { return true }), nil
}

func (s *Store) ListLowStockFrames(_ context.Context) ([]domain.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedFrames(func(f domain.Frame) bool {
		return f.Quantity <= f.LowStockThreshold
	}), nil
}

func (s *Store) sortedFrames(keep func(domain.Frame) bool) []domain.Frame {
	frames := make([]domain.Frame, 0, len(s.framesByID))
	for _, f := range s.framesByID {
		if keep(f) {
			frames = append(frames, f)
		}
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Quantity == frames[j].Quantity {
			return frames[i].Name < frames[j].Name
		}
		return frames[i].Quantity < frames[j].Quantity
	})
	return frames
}

func (s *Store) UpsertFrame(_ context.Context, frame domain.Frame) (*domain.Frame, error) {
	if strings.TrimSpace(frame.Name) == "" || frame.UnitPriceCents < 0 || frame.Quantity < 0 || frame.LowStockThreshold < 0 {
		return nil, store.ErrValidation
	}
	if frame.ID == "" {
		frame.ID = xid.New("frame")
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesByID[frame.ID] = frame
	saved := frame
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneInvoice(inv *domain.Invoice) *domain.Invoice {
	out := *inv
	out.Items = make([]domain.InvoiceItem, len(inv.Items))
	copy(out.Items, inv.Items)
	return &out
}
