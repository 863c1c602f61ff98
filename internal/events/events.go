package events

const (
	TopicPaymentEvents = "payment-events"
	TopicPayoutEvents  = "payout-events"
	TopicNotifications = "notifications"
)

type PaymentEvent struct {
	PaymentID string `json:"payment_id"`
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

type PayoutEvent struct {
	PayoutID   string `json:"payout_id"`
	PaymentID  string `json:"payment_id"`
	JobID      string `json:"job_id"`
	WorkerID   string `json:"worker_id"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Commission string `json:"commission"`
	Timestamp  string `json:"timestamp"`
}

// NotificationEvent is consumed by the notification service, which delivers
// Message to Username over Source.
type NotificationEvent struct {
	UserName string            `json:"user_name"`
	Username string            `json:"username"`
	Subject  string            `json:"subject"`
	Source   string            `json:"source"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

const (
	SourceWhatsApp = "WHATSAPP"
	SourceEmail    = "EMAIL"
)
