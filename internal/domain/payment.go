package domain

import "strings"

// PaymentStatus is the terminal (or pending) outcome reported by the payment provider.
type PaymentStatus string

const (
	PaymentApproved    PaymentStatus = "approved"
	PaymentPending     PaymentStatus = "pending"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentChargedBack PaymentStatus = "charged_back"
	PaymentRefunded    PaymentStatus = "refunded"
)

// ParsePaymentStatus maps provider spellings onto the known statuses.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return PaymentApproved, nil
	case "pending", "in_process", "authorized":
		return PaymentPending, nil
	case "rejected":
		return PaymentRejected, nil
	case "cancelled", "canceled":
		return PaymentCancelled, nil
	case "charged_back", "chargeback":
		return PaymentChargedBack, nil
	case "refunded":
		return PaymentRefunded, nil
	default:
		return "", InvalidInputf("unknown payment status %q", raw)
	}
}

// ReleasesStock reports whether the outcome gives the held units back.
func (s PaymentStatus) ReleasesStock() bool {
	switch s {
	case PaymentRejected, PaymentCancelled, PaymentChargedBack, PaymentRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Payer is the buyer as reported by the payment provider.
type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// PaymentOutcome is delivered once per transaction (at least once on the wire).
type PaymentOutcome struct {
	TransactionID string     `json:"transaction_id"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	StatusDetail  string     `json:"status_detail,omitempty"`
	Payer         Payer      `json:"payer"`
	Lines         []CartLine `json:"items"`
}
