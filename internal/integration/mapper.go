package integration

import (
	"fmt"

	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	"github.com/aamirsofi/fee-module-sub001/internal/payments"
)

func invoiceLineMemo(evt invoices.FinalizedEvent) string {
	return fmt.Sprintf("Invoice %s student %d", evt.InvoiceNumber, evt.StudentID)
}

func paymentLineMemo(evt payments.LedgerEvent) string {
	return fmt.Sprintf("Receipt %s %s student %d", evt.ReceiptNumber, evt.Method, evt.StudentID)
}
