// Package reconciliation applies gateway order and refund notifications to
// payments and invoices without ever moving a record backwards.
package reconciliation

import (
	"strconv"
	"strings"

	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

// IsOrderSuccess reports whether an order notification marks the payment as settled.
func IsOrderSuccess(status paymentdomain.Status) bool {
	return status == paymentdomain.StatusPaid || status == paymentdomain.StatusSuccess
}

// MapRefundStatus translates a gateway refund_status into a payment status.
func MapRefundStatus(refundStatus string) paymentdomain.Status {
	switch strings.ToUpper(strings.TrimSpace(refundStatus)) {
	case "SUCCESS":
		return paymentdomain.StatusRefunded
	case "CANCELLED", "FAILED":
		return paymentdomain.StatusRefundFailed
	default:
		return paymentdomain.StatusRefundProcessing
	}
}

// PaymentRank orders payment statuses. Unknown gateway statuses rank with PENDING.
func PaymentRank(status paymentdomain.Status) int {
	switch paymentdomain.NormalizeStatus(string(status)) {
	case paymentdomain.StatusPaid, paymentdomain.StatusSuccess:
		return 1
	case paymentdomain.StatusRefundInitiated:
		return 2
	case paymentdomain.StatusRefundProcessing:
		return 3
	case paymentdomain.StatusRefunded, paymentdomain.StatusRefundFailed:
		return 4
	default:
		return 0
	}
}

func InvoiceRank(status invoicedomain.Status) int {
	switch invoicedomain.NormalizeStatus(string(status)) {
	case invoicedomain.StatusPaid:
		return 1
	case invoicedomain.StatusRefundInitiating:
		return 2
	case invoicedomain.StatusRefunded, invoicedomain.StatusRefundFailed:
		return 3
	default:
		return 0
	}
}

// PaymentAdvances reports whether next may replace current. A failed refund is reopened
// by a new refund the gateway accepted.
func PaymentAdvances(current, next paymentdomain.Status) bool {
	if paymentdomain.NormalizeStatus(string(current)) == paymentdomain.StatusRefundFailed &&
		next == paymentdomain.StatusRefundInitiated {
		return true
	}
	return PaymentRank(next) >= PaymentRank(current)
}

// InvoiceAdvances is PaymentAdvances for invoice statuses.
func InvoiceAdvances(current, next invoicedomain.Status) bool {
	if invoicedomain.NormalizeStatus(string(current)) == invoicedomain.StatusRefundFailed &&
		next == invoicedomain.StatusRefundInitiating {
		return true
	}
	return InvoiceRank(next) >= InvoiceRank(current)
}

// DeriveInvoiceNumber strips the trailing "-{millis}" attempt suffix from an order id.
// Invoice numbers may contain hyphens themselves, so only the last segment is removed.
func DeriveInvoiceNumber(orderID string) string {
	idx := strings.LastIndex(orderID, "-")
	if idx <= 0 {
		return orderID
	}
	return orderID[:idx]
}

// attemptMillis returns the creation time encoded in an order id suffix.
func attemptMillis(orderID string) (int64, bool) {
	idx := strings.LastIndex(orderID, "-")
	if idx <= 0 || idx == len(orderID)-1 {
		return 0, false
	}
	millis, err := strconv.ParseInt(orderID[idx+1:], 10, 64)
	if err != nil || millis <= 0 {
		return 0, false
	}
	return millis, true
}
