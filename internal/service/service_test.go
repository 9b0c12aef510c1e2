package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"optikpos/backend/internal/cache"
	"optikpos/backend/internal/domain"
	"optikpos/backend/internal/store"
	"optikpos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopInvoiceCache{}, 5*time.Second)
	return svc, repo
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestCreateInvoiceInsufficientStockNamesTheItem(t *testing.T) {
	svc, repo := newTestService()

	// frame-cateye-01 is seeded with quantity 3.
	_, err := svc.CreateInvoice(staffCtx(), domain.InvoiceCreateRequest{
		CustomerID: "cust-ayu-01",
		Items: []domain.InvoiceItemInput{
			{Type: "frame", Description: "Cat Eye Tortoise", Qty: 5, UnitPriceCents: 41000, FrameID: "frame-cateye-01"},
		},
	})

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 3 || stockErr.Requested != 5 {
		t.Fatalf("expected available 3 requested 5, got %d/%d", stockErr.Available, stockErr.Requested)
	}
	if stockErr.Description != "Cat Eye Tortoise" {
		t.Fatalf("expected the offending item description, got %q", stockErr.Description)
	}

	frame, err := repo.GetFrameByID(context.Background(), "frame-cateye-01")
	if err != nil {
		t.Fatalf("GetFrameByID: %v", err)
	}
	if frame.Quantity != 3 {
		t.Fatalf("expected stock unchanged at 3, got %d", frame.Quantity)
	}
}

func TestCreateInvoicePartialAdvance(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateInvoice(staffCtx(), domain.InvoiceCreateRequest{
		CustomerID: "cust-ayu-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "progressive lens fitting", Qty: 1, UnitPriceCents: 15000},
			{Type: "frame", Description: "Wayfarer Matte", Qty: 1, UnitPriceCents: 5000, FrameID: "frame-wayfarer-01"},
		},
		AdvancePaidCents: 5000,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	inv := resp.Invoice
	if inv.SubtotalCents != 20000 {
		t.Fatalf("expected subtotal 20000, got %d", inv.SubtotalCents)
	}
	if inv.TotalPaidCents != 5000 {
		t.Fatalf("expected total paid 5000, got %d", inv.TotalPaidCents)
	}
	if inv.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", inv.PaymentStatus)
	}
	if !strings.HasPrefix(inv.InvoiceNo, "INV-") {
		t.Fatalf("unexpected invoice number %s", inv.InvoiceNo)
	}
	if inv.CreatedBy != "staff" {
		t.Fatalf("expected created_by staff, got %s", inv.CreatedBy)
	}
	if resp.Customer.ID != "cust-ayu-01" {
		t.Fatalf("expected resolved customer, got %s", resp.Customer.ID)
	}
}

func TestCreateInvoiceAdvanceClampedToSubtotal(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateInvoice(staffCtx(), domain.InvoiceCreateRequest{
		CustomerID: "cust-bagus-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "eye exam", Qty: 1, UnitPriceCents: 10000},
		},
		AdvancePaidCents: 25000,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if resp.Invoice.TotalPaidCents != 10000 {
		t.Fatalf("expected advance clamped to 10000, got %d", resp.Invoice.TotalPaidCents)
	}
	if resp.Invoice.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", resp.Invoice.PaymentStatus)
	}
}

func TestCreateInvoiceZeroAdvanceIsPending(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateInvoice(staffCtx(), domain.InvoiceCreateRequest{
		CustomerID: "cust-citra-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "frame adjustment", Qty: 2, UnitPriceCents: 2500},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if resp.Invoice.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", resp.Invoice.PaymentStatus)
	}
	if resp.Invoice.TotalPaidCents != 0 {
		t.Fatalf("expected total paid 0, got %d", resp.Invoice.TotalPaidCents)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := staffCtx()

	cases := []struct {
		name string
		req  domain.InvoiceCreateRequest
	}{
		{"missing customer", domain.InvoiceCreateRequest{
			Items: []domain.InvoiceItemInput{{Type: "service", Description: "exam", Qty: 1, UnitPriceCents: 100}},
		}},
		{"no items", domain.InvoiceCreateRequest{CustomerID: "cust-ayu-01"}},
		{"bad type", domain.InvoiceCreateRequest{
			CustomerID: "cust-ayu-01",
			Items:      []domain.InvoiceItemInput{{Type: "warranty", Description: "x", Qty: 1, UnitPriceCents: 100}},
		}},
		{"frame item without frame id", domain.InvoiceCreateRequest{
			CustomerID: "cust-ayu-01",
			Items:      []domain.InvoiceItemInput{{Type: "frame", Description: "x", Qty: 1, UnitPriceCents: 100}},
		}},
		{"service item with frame id", domain.InvoiceCreateRequest{
			CustomerID: "cust-ayu-01",
			Items:      []domain.InvoiceItemInput{{Type: "service", Description: "x", Qty: 1, UnitPriceCents: 100, FrameID: "frame-aviator-01"}},
		}},
		{"zero qty", domain.InvoiceCreateRequest{
			CustomerID: "cust-ayu-01",
			Items:      []domain.InvoiceItemInput{{Type: "service", Description: "x", Qty: 0, UnitPriceCents: 100}},
		}},
		{"negative price", domain.InvoiceCreateRequest{
			CustomerID: "cust-ayu-01",
			Items:      []domain.InvoiceItemInput{{Type: "service", Description: "x", Qty: 1, UnitPriceCents: -1}},
		}},
		{"negative advance", domain.InvoiceCreateRequest{
			CustomerID:       "cust-ayu-01",
			Items:            []domain.InvoiceItemInput{{Type: "service", Description: "x", Qty: 1, UnitPriceCents: 100}},
			AdvancePaidCents: -1,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateInvoice(ctx, tc.req)
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateInvoiceUnknownCustomer(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateInvoice(staffCtx(), domain.InvoiceCreateRequest{
		CustomerID: "cust-missing",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "exam", Qty: 1, UnitPriceCents: 100},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordPaymentSettlesInvoice(t *testing.T) {
	svc, _ := newTestService()
	ctx := staffCtx()

	created, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-ayu-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "lens fitting", Qty: 1, UnitPriceCents: 20000},
		},
		AdvancePaidCents: 5000,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	resp, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{
		InvoiceID:   created.Invoice.ID,
		AmountCents: 15000,
		Method:      "Cash",
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	if resp.Invoice.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", resp.Invoice.PaymentStatus)
	}
	if resp.Invoice.RemainingCents() != 0 {
		t.Fatalf("expected remaining 0, got %d", resp.Invoice.RemainingCents())
	}
	if !strings.HasPrefix(resp.Payment.ReceiptNo, "RCPT-") {
		t.Fatalf("unexpected receipt number %s", resp.Payment.ReceiptNo)
	}
	if resp.Payment.Method != "cash" {
		t.Fatalf("expected normalized method, got %s", resp.Payment.Method)
	}
	if resp.Payment.ReceivedBy != "staff" {
		t.Fatalf("expected received_by staff, got %s", resp.Payment.ReceivedBy)
	}
}

func TestRecordPaymentOverpaymentLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService()
	ctx := staffCtx()

	created, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-ayu-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "lens fitting", Qty: 1, UnitPriceCents: 20000},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if _, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{
		InvoiceID:   created.Invoice.ID,
		AmountCents: 20000,
		Method:      "cash",
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	_, err = svc.RecordPayment(ctx, domain.PaymentRecordRequest{
		InvoiceID:   created.Invoice.ID,
		AmountCents: 1,
		Method:      "cash",
	})
	var overErr *store.OverpaymentError
	if !errors.As(err, &overErr) {
		t.Fatalf("expected OverpaymentError, got %v", err)
	}
	if overErr.RemainingCents != 0 || overErr.AttemptedCents != 1 {
		t.Fatalf("unexpected overpayment detail: %+v", overErr)
	}

	list, err := svc.ListInvoicePayments(ctx, created.Invoice.ID)
	if err != nil {
		t.Fatalf("ListInvoicePayments: %v", err)
	}
	if len(list.Payments) != 1 {
		t.Fatalf("expected 1 payment after rejection, got %d", len(list.Payments))
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := staffCtx()

	if _, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{AmountCents: 100, Method: "cash"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing invoice id, got %v", err)
	}
	if _, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{InvoiceID: "inv-x", AmountCents: 0, Method: "cash"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	if _, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{InvoiceID: "inv-x", AmountCents: 100}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing method, got %v", err)
	}
	if _, err := svc.RecordPayment(ctx, domain.PaymentRecordRequest{InvoiceID: "inv-missing", AmountCents: 100, Method: "cash"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown invoice, got %v", err)
	}
}

func TestGetInvoiceResolvesCustomer(t *testing.T) {
	svc, _ := newTestService()
	ctx := staffCtx()

	created, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		CustomerID: "cust-citra-01",
		Items: []domain.InvoiceItemInput{
			{Type: "service", Description: "exam", Qty: 1, UnitPriceCents: 5000},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	got, err := svc.GetInvoice(ctx, created.Invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Invoice.InvoiceNo != created.Invoice.InvoiceNo {
		t.Fatalf("expected invoice %s, got %s", created.Invoice.InvoiceNo, got.Invoice.InvoiceNo)
	}
	if got.Customer.Name != "Citra Handayani" {
		t.Fatalf("expected customer name resolved, got %s", got.Customer.Name)
	}
}

func TestUpsertFrameRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	req := domain.FrameUpsertRequest{Name: "Clubmaster", Category: "acetate", UnitPriceCents: 52000, Quantity: 4, LowStockThreshold: 2}

	if _, err := svc.UpsertFrame(staffCtx(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff upsert, got %v", err)
	}

	frame, err := svc.UpsertFrame(adminCtx(), req)
	if err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}
	if frame.ID == "" || frame.Quantity != 4 {
		t.Fatalf("unexpected saved frame: %+v", frame)
	}
}

func TestCreateCustomerRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateCustomer(staffCtx(), domain.Customer{Name: "Dewi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff create, got %v", err)
	}

	created, err := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Dewi", Phone: "+62-815-000-1111"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated customer id")
	}
}
