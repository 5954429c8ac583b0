// internal/models/notification.go
package models

import "time"

// Request defaults shared with the browser client.
const (
	DefaultIcon  = "/icon-192.png"
	DefaultBadge = "/icon-192.png"
	DefaultURL   = "/"
	DefaultTag   = "general"
	DefaultTTL   = 2419200 // 28 days, in seconds
)

// NotificationRequest is one logical notification to fan out.
type NotificationRequest struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	URL                string   `json:"url,omitempty"`
	TTL                int      `json:"ttl,omitempty"`
	Actions            []Action `json:"actions,omitempty"`
	Tag                string   `json:"tag,omitempty"`
	RequireInteraction bool     `json:"requireInteraction,omitempty"`
	IdempotencyID      string   `json:"idempotencyId,omitempty"`
}

// Action is a notification action button shown by the browser.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Payload is the wire shape delivered to the service worker. Field
// names are a compatibility contract with the client and must not
// change.
type Payload struct {
	Title              string      `json:"title"`
	Body               string      `json:"body"`
	Icon               string      `json:"icon"`
	Badge              string      `json:"badge"`
	Data               PayloadData `json:"data"`
	Actions            []Action    `json:"actions"`
	Tag                string      `json:"tag"`
	RequireInteraction bool        `json:"requireInteraction"`
}

type PayloadData struct {
	URL       string `json:"url"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// Delivery outcome classes
const (
	OutcomeDelivered        = "delivered"
	OutcomeTransientFailure = "transient_failure"
	OutcomePermanentFailure = "permanent_failure"
)

// DeliveryOutcome is the per-subscriber result of one send attempt.
type DeliveryOutcome struct {
	SubscriberID string `json:"subscriberId"`
	Class        string `json:"class"`
	StatusCode   int    `json:"statusCode,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// SendFailure is one entry in a DispatchResult's bounded error list.
// Endpoint is always truncated so the full delivery address never
// leaves the engine.
type SendFailure struct {
	DeviceID string `json:"deviceId"`
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}

// DispatchResult aggregates one notification run. It is finalized when
// all batches complete and never mutated afterwards.
type DispatchResult struct {
	NotificationID string        `json:"notificationId"`
	Targeted       int           `json:"targeted"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	NoRecipients   bool          `json:"noRecipients,omitempty"`
	Errors         []SendFailure `json:"errors,omitempty"`
	SentAt         time.Time     `json:"sentAt"`
}
