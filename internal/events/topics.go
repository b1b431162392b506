package events

// Topic constants for events emitted by the checkout flow.
const (
	TopicOrderConfirmed   = "order.confirmed"
	TopicOrderWriteFailed = "order.write_failed"
	TopicPaymentFailed    = "payment.failed"
)

// DefaultTopics returns every topic the checkout flow emits.
func DefaultTopics() []string {
	return []string{
		TopicOrderConfirmed,
		TopicOrderWriteFailed,
		TopicPaymentFailed,
	}
}

// OrderEvent is the payload of every checkout event. OrderID is empty for
// order.write_failed and payment.failed.
type OrderEvent struct {
	OrderID       string `json:"orderId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	PaymentID     string `json:"paymentId,omitempty"`
	Total         string `json:"total,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Code          string `json:"code,omitempty"`
}
