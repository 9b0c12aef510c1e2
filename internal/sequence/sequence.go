package sequence

import "fmt"

// Series names shared by every store implementation. Counters are created
// lazily on first allocation and never reset.
const (
	SeriesInvoice = "invoice"
	SeriesReceipt = "receipt"
)

// InvoiceNo formats an allocated invoice counter value, e.g. INV-2026-00042.
// Uniqueness is inherited entirely from the counter; the formatting adds none.
func InvoiceNo(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}

// ReceiptNo formats an allocated receipt counter value, e.g. RCPT-2026-0007.
func ReceiptNo(year int, seq int64) string {
	return fmt.Sprintf("RCPT-%d-%04d", year, seq)
}
