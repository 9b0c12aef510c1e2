package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"optikpos/backend/internal/domain"
	"optikpos/backend/internal/sequence"
	"optikpos/backend/internal/store"
	"optikpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextSequence performs the atomic increment-and-return for a named series.
// The upsert is a single statement so two concurrent callers can never read
// the same value; a new series starts at 1.
func nextSequence(ctx context.Context, q rowQuerier, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, store.ErrValidation
	}

	var seq int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO counters (name, seq)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET seq = counters.seq + 1
		RETURNING seq
	`, name).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: counter %s: %v", store.ErrStoreUnavailable, name, err)
	}
	return seq, nil
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	return nextSequence(ctx, s.db, name)
}

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if inv.CustomerID == "" || len(inv.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var customerExists bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)
	`, inv.CustomerID).Scan(&customerExists)
	if err != nil {
		return nil, wrapInfra(err)
	}
	if !customerExists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, inv.CustomerID)
	}

	subtotalCents := int64(0)
	items := make([]domain.InvoiceItem, 0, len(inv.Items))
	for _, item := range inv.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 || strings.TrimSpace(item.Description) == "" {
			return nil, store.ErrValidation
		}

		if item.Type == domain.ItemTypeFrame {
			// Conditional decrement: the stock check and the reservation are
			// one statement, so concurrent invoices can never oversell. A
			// repeated frame id sees the decrements of earlier lines in this
			// same transaction.
			res, err := pgTx.ExecContext(ctx, `
				UPDATE frames
				SET quantity = quantity - $1, updated_at = now()
				WHERE id = $2 AND quantity >= $1
			`, item.Qty, item.FrameID)
			if err != nil {
				return nil, wrapInfra(err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, wrapInfra(err)
			}
			if affected == 0 {
				var available int
				err := pgTx.QueryRowContext(ctx, `
					SELECT quantity FROM frames WHERE id = $1
				`, item.FrameID).Scan(&available)
				if errors.Is(err, sql.ErrNoRows) {
					return nil, fmt.Errorf("%w: frame %s", store.ErrNotFound, item.FrameID)
				}
				if err != nil {
					return nil, wrapInfra(err)
				}
				return nil, &store.InsufficientStockError{
					FrameID:     item.FrameID,
					Description: item.Description,
					Available:   available,
					Requested:   item.Qty,
				}
			}
		}

		item.TotalCents = int64(item.Qty) * item.UnitPriceCents
		subtotalCents += item.TotalCents
		items = append(items, item)
	}

	seq, err := nextSequence(ctx, pgTx, sequence.SeriesInvoice)
	if err != nil {
		return nil, err
	}

	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.Date.IsZero() {
		inv.Date = time.Now().UTC()
	}
	inv.InvoiceNo = sequence.InvoiceNo(inv.Date.Year(), seq)
	inv.Items = items
	inv.SubtotalCents = subtotalCents
	if inv.AdvancePaidCents < 0 {
		return nil, store.ErrValidation
	}
	if inv.AdvancePaidCents > subtotalCents {
		inv.AdvancePaidCents = subtotalCents
	}
	inv.TotalPaidCents = inv.AdvancePaidCents
	inv.PaymentStatus = domain.PaymentStatusFor(inv.SubtotalCents, inv.TotalPaidCents)

	itemsJSON, err := json.Marshal(inv.Items)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_no, customer_id, items, subtotal_cents,
			advance_paid_cents, total_paid_cents, payment_status,
			notes, created_by, invoice_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, inv.ID, inv.InvoiceNo, inv.CustomerID, itemsJSON, inv.SubtotalCents,
		inv.AdvancePaidCents, inv.TotalPaidCents, inv.PaymentStatus,
		nullIfEmpty(inv.Notes), inv.CreatedBy, inv.Date)
	if err != nil {
		return nil, wrapInfra(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	created := inv
	return &created, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT id, invoice_no, customer_id, items, subtotal_cents,
			advance_paid_cents, total_paid_cents, payment_status,
			notes, created_by, invoice_date
		FROM invoices
		WHERE id = $1
	`, id))
}

func (s *Store) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_no, customer_id, items, subtotal_cents,
			advance_paid_cents, total_paid_cents, payment_status,
			notes, created_by, invoice_date
		FROM invoices
		ORDER BY invoice_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var itemsJSON []byte
	var notes sql.NullString
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNo,
		&inv.CustomerID,
		&itemsJSON,
		&inv.SubtotalCents,
		&inv.AdvancePaidCents,
		&inv.TotalPaidCents,
		&inv.PaymentStatus,
		&notes,
		&inv.CreatedBy,
		&inv.Date,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &inv.Items); err != nil {
		return nil, err
	}
	if notes.Valid {
		inv.Notes = notes.String
	}
	inv.Date = inv.Date.UTC()
	return &inv, nil
}

func (s *Store) RecordPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	if payment.InvoiceID == "" {
		return nil, nil, store.ErrValidation
	}
	if payment.AmountCents < 1 {
		return nil, nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	defer func() { _ = pgTx.Rollback() }()

	inv, err := scanInvoice(pgTx.QueryRowContext(ctx, `
		SELECT id, invoice_no, customer_id, items, subtotal_cents,
			advance_paid_cents, total_paid_cents, payment_status,
			notes, created_by, invoice_date
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, payment.InvoiceID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, payment.InvoiceID)
		}
		return nil, nil, wrapInfra(err)
	}

	remaining := inv.SubtotalCents - inv.TotalPaidCents
	if payment.AmountCents > remaining {
		return nil, nil, &store.OverpaymentError{
			InvoiceID:      inv.ID,
			RemainingCents: remaining,
			AttemptedCents: payment.AmountCents,
		}
	}

	seq, err := nextSequence(ctx, pgTx, sequence.SeriesReceipt)
	if err != nil {
		return nil, nil, err
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}
	payment.ReceiptNo = sequence.ReceiptNo(payment.Date.Year(), seq)

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO payments (
			id, invoice_id, amount_cents, method, payment_type,
			receipt_no, note, received_by, payment_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, payment.ID, payment.InvoiceID, payment.AmountCents, payment.Method,
		payment.PaymentType, payment.ReceiptNo, nullIfEmpty(payment.Note),
		payment.ReceivedBy, payment.Date)
	if err != nil {
		return nil, nil, wrapInfra(err)
	}

	inv.TotalPaidCents += payment.AmountCents
	inv.PaymentStatus = domain.PaymentStatusFor(inv.SubtotalCents, inv.TotalPaidCents)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE invoices
		SET total_paid_cents = $2, payment_status = $3
		WHERE id = $1
	`, inv.ID, inv.TotalPaidCents, inv.PaymentStatus)
	if err != nil {
		return nil, nil, wrapInfra(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	return &payment, inv, nil
}

func (s *Store) ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount_cents, method, payment_type,
			receipt_no, note, received_by, payment_date
		FROM payments
		WHERE invoice_id = $1
		ORDER BY payment_date ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		var note sql.NullString
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.PaymentType, &p.ReceiptNo, &note, &p.ReceivedBy, &p.Date); err != nil {
			return nil, err
		}
		if note.Valid {
			p.Note = note.String
		}
		p.Date = p.Date.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if email.Valid {
		c.Email = email.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		var email sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &email, &c.CreatedAt); err != nil {
			return nil, err
		}
		if email.Valid {
			c.Email = email.String
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Email), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetFrameByID(ctx context.Context, id string) (*domain.Frame, error) {
	var f domain.Frame
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit_price_cents, quantity, low_stock_threshold, created_at
		FROM frames
		WHERE id = $1
	`, id).Scan(&f.ID, &f.Name, &f.Category, &f.UnitPriceCents, &f.Quantity, &f.LowStockThreshold, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func (s *Store) ListFrames(ctx context.Context) ([]domain.Frame, error) {
	return s.listFrames(ctx, `
		SELECT id, name, category, unit_price_cents, quantity, low_stock_threshold, created_at
		FROM frames
		ORDER BY category, name
	`)
}

func (s *Store) ListLowStockFrames(ctx context.Context) ([]domain.Frame, error) {
	return s.listFrames(ctx, `
		SELECT id, name, category, unit_price_cents, quantity, low_stock_threshold, created_at
		FROM frames
		WHERE quantity <= low_stock_threshold
		ORDER BY quantity ASC, name
	`)
}

func (s *Store) listFrames(ctx context.Context, query string) ([]domain.Frame, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	frames := make([]domain.Frame, 0, 64)
	for rows.Next() {
		var f domain.Frame
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &f.UnitPriceCents, &f.Quantity, &f.LowStockThreshold, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (s *Store) UpsertFrame(ctx context.Context, frame domain.Frame) (*domain.Frame, error) {
	if strings.TrimSpace(frame.Name) == "" || frame.UnitPriceCents < 0 || frame.Quantity < 0 || frame.LowStockThreshold < 0 {
		return nil, store.ErrValidation
	}
	if frame.ID == "" {
		frame.ID = xid.New("frame")
	}
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (id, name, category, unit_price_cents, quantity, low_stock_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
			unit_price_cents = EXCLUDED.unit_price_cents, quantity = EXCLUDED.quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold, updated_at = now()
	`, frame.ID, frame.Name, frame.Category, frame.UnitPriceCents, frame.Quantity, frame.LowStockThreshold, frame.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := frame
	return &saved, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	return err
}

// wrapInfra classifies a statement error raised inside a transaction.
// Unique violations become validation errors and sentinel-bearing errors pass
// through untouched; everything else (connection loss, serialization aborts)
// is an infrastructure failure with no partial side effect, reported as
// ErrStoreUnavailable so callers surface it as a retryable 5xx.
func wrapInfra(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrStoreUnavailable) {
		return err
	}
	if isUniqueViolation(err) {
		return store.ErrValidation
	}
	return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
