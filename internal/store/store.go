package store

import (
	"context"
	"errors"
	"fmt"

	"optikpos/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsufficientStockError reports a frame reservation that failed because the
// requested quantity exceeded what was on hand at the instant of the
// transaction. Available reflects any reservations already applied by earlier
// lines of the same invoice.
type InsufficientStockError struct {
	FrameID     string
	Description string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (frame %s): available %d, requested %d",
		e.Description, e.FrameID, e.Available, e.Requested)
}

// OverpaymentError reports a payment attempt exceeding the invoice's
// remaining balance. No receipt number is consumed when this is returned.
type OverpaymentError struct {
	InvoiceID      string
	RemainingCents int64
	AttemptedCents int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %d exceeds remaining balance %d on invoice %s",
		e.AttemptedCents, e.RemainingCents, e.InvoiceID)
}

// Repository is the single data-access boundary. Every multi-step mutation
// (invoice creation, payment recording) happens inside one store-level
// transaction: it either commits fully or leaves no trace, including stock
// reservations and counter allocations.
type Repository interface {
	// NextSequence atomically increments and returns the counter for the
	// named series, creating it at 1 on first use. It is a single
	// increment-and-return at the storage layer, never read-then-write.
	NextSequence(ctx context.Context, name string) (int64, error)

	// CreateInvoice runs the whole invoice transaction: customer check,
	// per-line frame reservation in caller order, subtotal, invoice-number
	// allocation, payment-status derivation, insert. The returned invoice is
	// the one written by this transaction.
	CreateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error)

	// RecordPayment runs the payment transaction: balance check, receipt
	// allocation, payment insert, invoice totals update. Returns the payment
	// and the invoice as updated by the same transaction.
	RecordPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID string) ([]domain.Payment, error)

	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetFrameByID(ctx context.Context, id string) (*domain.Frame, error)
	ListFrames(ctx context.Context) ([]domain.Frame, error)
	ListLowStockFrames(ctx context.Context) ([]domain.Frame, error)
	UpsertFrame(ctx context.Context, frame domain.Frame) (*domain.Frame, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
