// internal/models/subscriber.go
package models

import "time"

// Subscriber statuses
const (
	StatusActive       = "active"
	StatusInactive     = "inactive"
	StatusUnsubscribed = "unsubscribed"
)

// KeyMaterial is the plaintext browser key pair for a push subscription.
// It only exists transiently inside the dispatch path; it is never
// persisted or logged.
type KeyMaterial struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// EncryptedBlob is the sealed form of KeyMaterial as stored in the
// subscriptions table. All three parts are hex encoded.
type EncryptedBlob struct {
	Nonce      string `json:"iv"`
	Ciphertext string `json:"data"`
	AuthTag    string `json:"authTag"`
}

// Subscriber is a read-only snapshot of a subscription row, fetched at
// dispatch start. Status mutations go back through the registry.
type Subscriber struct {
	ID             string        `json:"id"`
	Endpoint       string        `json:"endpoint"`
	EncryptedKeys  EncryptedBlob `json:"encryptedKeys"`
	Status         string        `json:"status"`
	Tags           []string      `json:"tags,omitempty"`
	LastNotifiedAt *time.Time    `json:"lastNotifiedAt,omitempty"`
}

// Selector narrows a dispatch to explicit device ids and/or tag
// filters. Both empty means every active subscriber.
type Selector struct {
	DeviceIDs []string `json:"deviceIds,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// IsEmpty reports whether the selector targets all active subscribers.
func (s Selector) IsEmpty() bool {
	return len(s.DeviceIDs) == 0 && len(s.Tags) == 0
}
