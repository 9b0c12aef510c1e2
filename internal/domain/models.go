package domain

import "time"

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Frame struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
}

type FrameUpsertRequest struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	UnitPriceCents    int64  `json:"unit_price_cents"`
	Quantity          int    `json:"quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type ItemType string

const (
	ItemTypeService ItemType = "service"
	ItemTypeFrame   ItemType = "frame"
)

// InvoiceItem is a line embedded in an invoice. FrameID is populated only
// when Type is ItemTypeFrame; service lines never touch stock.
type InvoiceItem struct {
	Type           ItemType `json:"type"`
	Description    string   `json:"description"`
	Qty            int      `json:"qty"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	TotalCents     int64    `json:"total_cents"`
	FrameID        string   `json:"frame_id,omitempty"`
}

const (
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

// PaymentStatusFor derives the settlement state of an invoice from its
// subtotal and the amount paid so far. This is the only place the mapping
// is defined.
func PaymentStatusFor(subtotalCents int64, totalPaidCents int64) string {
	switch {
	case totalPaidCents <= 0:
		return PaymentStatusPending
	case totalPaidCents >= subtotalCents:
		return PaymentStatusPaid
	default:
		return PaymentStatusPartial
	}
}

type Invoice struct {
	ID               string        `json:"id"`
	InvoiceNo        string        `json:"invoice_no"`
	CustomerID       string        `json:"customer_id"`
	Items            []InvoiceItem `json:"items"`
	SubtotalCents    int64         `json:"subtotal_cents"`
	AdvancePaidCents int64         `json:"advance_paid_cents"`
	TotalPaidCents   int64         `json:"total_paid_cents"`
	PaymentStatus    string        `json:"payment_status"`
	Notes            string        `json:"notes,omitempty"`
	CreatedBy        string        `json:"created_by"`
	Date             time.Time     `json:"date"`
}

// RemainingCents is the outstanding balance as of the read.
func (inv Invoice) RemainingCents() int64 {
	return inv.SubtotalCents - inv.TotalPaidCents
}

type Payment struct {
	ID          string    `json:"id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	PaymentType string    `json:"payment_type"`
	ReceiptNo   string    `json:"receipt_no"`
	Note        string    `json:"note,omitempty"`
	ReceivedBy  string    `json:"received_by"`
	Date        time.Time `json:"date"`
}

type InvoiceItemInput struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	FrameID        string `json:"frame_id,omitempty"`
}

type InvoiceCreateRequest struct {
	CustomerID       string             `json:"customer_id"`
	Items            []InvoiceItemInput `json:"items"`
	AdvancePaidCents int64              `json:"advance_paid_cents"`
	Notes            string             `json:"notes,omitempty"`
}

type InvoiceResponse struct {
	Invoice  Invoice  `json:"invoice"`
	Customer Customer `json:"customer"`
}

type PaymentRecordRequest struct {
	InvoiceID   string `json:"invoice_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	PaymentType string `json:"payment_type"`
	Note        string `json:"note,omitempty"`
}

type PaymentResponse struct {
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}

type PaymentListResponse struct {
	InvoiceID string    `json:"invoice_id"`
	Payments  []Payment `json:"payments"`
}

// Counter is one named monotonic series. Seq only ever grows, by exactly
// one per allocation.
type Counter struct {
	Name string `json:"name"`
	Seq  int64  `json:"seq"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
