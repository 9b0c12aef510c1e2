package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"optikpos/backend/internal/cache"
	"optikpos/backend/internal/domain"
	"optikpos/backend/internal/store"
	"optikpos/backend/internal/xid"
)

// ErrForbidden is returned when the acting user lacks the role an operation
// requires.
var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	invCache cache.InvoiceCache
	cacheTTL time.Duration
}

func New(repo store.Repository, invCache cache.InvoiceCache, cacheTTL time.Duration) *Service {
	if invCache == nil {
		invCache = cache.NoopInvoiceCache{}
	}
	if cacheTTL < time.Second {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		invCache: invCache,
		cacheTTL: cacheTTL,
	}
}

// CreateInvoice validates the request, runs the invoice transaction through
// the store, and returns the invoice produced by that transaction. It never
// re-reads the invoice by number afterwards; the transaction result is the
// single source of truth for what was created.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.InvoiceResponse, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: customer_id is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	if req.AdvancePaidCents < 0 {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: advance_paid_cents must not be negative", store.ErrValidation)
	}

	items := make([]domain.InvoiceItem, 0, len(req.Items))
	for i, in := range req.Items {
		itemType := domain.ItemType(strings.ToLower(strings.TrimSpace(in.Type)))
		description := strings.TrimSpace(in.Description)
		frameID := strings.TrimSpace(in.FrameID)

		switch itemType {
		case domain.ItemTypeFrame:
			if frameID == "" {
				return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: frame_id is required for frame items", store.ErrValidation, i+1)
			}
		case domain.ItemTypeService:
			if frameID != "" {
				return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: frame_id is not allowed on service items", store.ErrValidation, i+1)
			}
		default:
			return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: type must be %q or %q", store.ErrValidation, i+1, domain.ItemTypeService, domain.ItemTypeFrame)
		}
		if description == "" {
			return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: description is required", store.ErrValidation, i+1)
		}
		if in.Qty < 1 {
			return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: qty must be at least 1", store.ErrValidation, i+1)
		}
		if in.UnitPriceCents < 0 {
			return domain.InvoiceResponse{}, fmt.Errorf("%w: item %d: unit_price_cents must not be negative", store.ErrValidation, i+1)
		}

		items = append(items, domain.InvoiceItem{
			Type:           itemType,
			Description:    description,
			Qty:            in.Qty,
			UnitPriceCents: in.UnitPriceCents,
			FrameID:        frameID,
		})
	}

	actor, _ := ActorFromContext(ctx)

	draft := domain.Invoice{
		ID:               xid.New("inv"),
		CustomerID:       req.CustomerID,
		Items:            items,
		AdvancePaidCents: req.AdvancePaidCents,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedBy:        actor.Username,
		Date:             time.Now().UTC(),
	}

	created, err := s.repo.CreateInvoice(ctx, draft)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	customer, err := s.repo.GetCustomerByID(ctx, created.CustomerID)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	resp := domain.InvoiceResponse{Invoice: *created, Customer: *customer}
	if err := s.invCache.Set(ctx, created.ID, &resp, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache invoice %s: %v", created.ID, err)
	}

	s.logAudit(ctx, "invoice_create", "invoice", created.ID,
		fmt.Sprintf("invoice_no=%s,subtotal=%d,advance=%d,status=%s", created.InvoiceNo, created.SubtotalCents, created.AdvancePaidCents, created.PaymentStatus))

	return resp, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.InvoiceResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.InvoiceResponse{}, store.ErrValidation
	}

	if cached, ok, err := s.invCache.Get(ctx, id); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: invoice cache read failed for %s: %v", id, err)
	}

	inv, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	customer, err := s.repo.GetCustomerByID(ctx, inv.CustomerID)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	resp := domain.InvoiceResponse{Invoice: *inv, Customer: *customer}
	if err := s.invCache.Set(ctx, id, &resp, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache invoice %s: %v", id, err)
	}
	return resp, nil
}

func (s *Service) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, limit)
}

// RecordPayment applies a settlement payment against an invoice. Overpayment
// is rejected by the store before any receipt number is consumed.
func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentRecordRequest) (domain.PaymentResponse, error) {
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	if req.InvoiceID == "" {
		return domain.PaymentResponse{}, fmt.Errorf("%w: invoice_id is required", store.ErrValidation)
	}
	if req.AmountCents < 1 {
		return domain.PaymentResponse{}, fmt.Errorf("%w: amount_cents must be at least 1", store.ErrValidation)
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		return domain.PaymentResponse{}, fmt.Errorf("%w: method is required", store.ErrValidation)
	}
	paymentType := strings.ToLower(strings.TrimSpace(req.PaymentType))
	if paymentType == "" {
		paymentType = "installment"
	}

	actor, _ := ActorFromContext(ctx)

	payment, invoice, err := s.repo.RecordPayment(ctx, domain.Payment{
		ID:          xid.New("pay"),
		InvoiceID:   req.InvoiceID,
		AmountCents: req.AmountCents,
		Method:      method,
		PaymentType: paymentType,
		Note:        strings.TrimSpace(req.Note),
		ReceivedBy:  actor.Username,
		Date:        time.Now().UTC(),
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	if err := s.invCache.Invalidate(ctx, invoice.ID); err != nil {
		log.Printf("[service] WARN: failed to invalidate invoice cache %s: %v", invoice.ID, err)
	}

	s.logAudit(ctx, "payment_record", "payment", payment.ID,
		fmt.Sprintf("invoice=%s,receipt_no=%s,amount=%d,status=%s", invoice.ID, payment.ReceiptNo, payment.AmountCents, invoice.PaymentStatus))

	return domain.PaymentResponse{Payment: *payment, Invoice: *invoice}, nil
}

func (s *Service) ListInvoicePayments(ctx context.Context, invoiceID string) (domain.PaymentListResponse, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.PaymentListResponse{}, store.ErrValidation
	}

	if _, err := s.repo.GetInvoiceByID(ctx, invoiceID); err != nil {
		return domain.PaymentListResponse{}, err
	}
	payments, err := s.repo.ListPaymentsByInvoice(ctx, invoiceID)
	if err != nil {
		return domain.PaymentListResponse{}, err
	}

	return domain.PaymentListResponse{InvoiceID: invoiceID, Payments: payments}, nil
}

func (s *Service) ListFrames(ctx context.Context) ([]domain.Frame, error) {
	return s.repo.ListFrames(ctx)
}

func (s *Service) ListLowStockFrames(ctx context.Context) ([]domain.Frame, error) {
	return s.repo.ListLowStockFrames(ctx)
}

func (s *Service) UpsertFrame(ctx context.Context, req domain.FrameUpsertRequest) (domain.Frame, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Frame{}, ErrForbidden
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Frame{}, fmt.Errorf("%w: name and category are required", store.ErrValidation)
	}
	if req.UnitPriceCents < 0 || req.Quantity < 0 || req.LowStockThreshold < 0 {
		return domain.Frame{}, fmt.Errorf("%w: price, quantity and threshold must not be negative", store.ErrValidation)
	}

	saved, err := s.repo.UpsertFrame(ctx, domain.Frame{
		ID:                strings.TrimSpace(req.ID),
		Name:              req.Name,
		Category:          req.Category,
		UnitPriceCents:    req.UnitPriceCents,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		return domain.Frame{}, err
	}

	s.logAudit(ctx, "frame_upsert", "frame", saved.ID,
		fmt.Sprintf("name=%s,price=%d,qty=%d", saved.Name, saved.UnitPriceCents, saved.Quantity))

	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Customer{}, ErrForbidden
	}

	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
