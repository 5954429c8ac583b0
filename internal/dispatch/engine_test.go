package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/audit"
	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// ==========================
// Test Fakes
// ==========================

type fakeVault struct{}

func (fakeVault) Decrypt(blob models.EncryptedBlob) (models.KeyMaterial, error) {
	if blob.Ciphertext == "corrupt" {
		return models.KeyMaterial{}, apperrors.NewIntegrityError("")
	}
	return models.KeyMaterial{P256dh: "p256dh", Auth: "auth"}, nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	subscribers []models.Subscriber
	findErr     error
	touchErr    error
	statusErr   error
	touched     map[string]int
	statuses    map[string]string
}

func newFakeRegistry(subs ...models.Subscriber) *fakeRegistry {
	return &fakeRegistry{
		subscribers: subs,
		touched:     map[string]int{},
		statuses:    map[string]string{},
	}
}

func (r *fakeRegistry) FindActiveBySelector(ctx context.Context, sel models.Selector) ([]models.Subscriber, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.subscribers, nil
}

func (r *fakeRegistry) FindActiveByID(ctx context.Context, id string) (models.Subscriber, error) {
	for _, sub := range r.subscribers {
		if sub.ID == id {
			return sub, nil
		}
	}
	return models.Subscriber{}, apperrors.NewSubscriberNotFoundError(id)
}

func (r *fakeRegistry) SetStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return r.statusErr
	}
	r.statuses[id] = status
	return nil
}

func (r *fakeRegistry) TouchLastNotified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	r.touched[id]++
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	respond     func(endpoint string) error
	payloads    [][]byte
	calls       []string
	inFlight    int
	maxInFlight int
}

func (t *fakeTransport) Send(ctx context.Context, endpoint string, keys models.KeyMaterial, payload []byte, ttl int) error {
	t.mu.Lock()
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	t.calls = append(t.calls, endpoint)
	t.payloads = append(t.payloads, payload)
	t.mu.Unlock()

	time.Sleep(time.Millisecond)

	t.mu.Lock()
	t.inFlight--
	t.mu.Unlock()

	if t.respond != nil {
		return t.respond(endpoint)
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	err     error
	records []audit.SendRecord
}

func (a *fakeAudit) RecordSend(ctx context.Context, rec audit.SendRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func makeSubscribers(n int) []models.Subscriber {
	subs := make([]models.Subscriber, n)
	for i := range subs {
		subs[i] = models.Subscriber{
			ID:       fmt.Sprintf("sub-%d", i),
			Endpoint: fmt.Sprintf("https://push.example.com/send/%d", i),
			EncryptedKeys: models.EncryptedBlob{
				Nonce: "00", Ciphertext: "aa", AuthTag: "bb",
			},
			Status: models.StatusActive,
		}
	}
	return subs
}

func createTestEngine(t *testing.T, reg *fakeRegistry, tr *fakeTransport, sink *fakeAudit) *Engine {
	return NewEngine(fakeVault{}, reg, tr, sink, Config{
		BatchSize:   10,
		BatchDelay:  time.Millisecond,
		SendTimeout: time.Second,
	}, logger.NewTestLogger(t))
}

func createRequest() *models.NotificationRequest {
	return &models.NotificationRequest{
		Title: "Release day",
		Body:  "v2 is out",
	}
}

// ==========================
// Fan-Out Tests
// ==========================

func TestDispatch_AllDelivered(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(25)...)
	tr := &fakeTransport{}
	sink := &fakeAudit{}
	engine := createTestEngine(t, reg, tr, sink)

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 25, result.Targeted)
	assert.Equal(t, 25, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.NoRecipients)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.NotificationID)

	// bounded concurrency: never more than one batch in flight
	assert.Len(t, tr.calls, 25)
	assert.LessOrEqual(t, tr.maxInFlight, 10)
	assert.Greater(t, tr.maxInFlight, 1)

	// every delivered subscriber touched exactly once
	assert.Len(t, reg.touched, 25)
	for id, n := range reg.touched {
		assert.Equal(t, 1, n, "subscriber %s", id)
	}

	require.Len(t, sink.records, 1)
	assert.Equal(t, result.NotificationID, sink.records[0].NotificationID)
	assert.Equal(t, 25, sink.records[0].Targeted)
	assert.Equal(t, 25, sink.records[0].Sent)
	assert.Equal(t, "admin", sink.records[0].Actor)
}

func TestDispatch_GoneSubscriberDeactivated(t *testing.T) {
	subs := makeSubscribers(3)
	subs[1].Endpoint = "https://push.example.com/send/" + strings.Repeat("b", 60)
	reg := newFakeRegistry(subs...)
	tr := &fakeTransport{
		respond: func(endpoint string) error {
			if endpoint == subs[1].Endpoint {
				return &apperrors.TransportError{StatusCode: 410, Permanent: true, Message: "subscription gone at push service"}
			}
			return nil
		},
	}
	sink := &fakeAudit{}
	engine := createTestEngine(t, reg, tr, sink)

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Targeted)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)

	// the gone subscriber is deactivated, siblings delivered normally
	assert.Equal(t, models.StatusInactive, reg.statuses["sub-1"])
	assert.Equal(t, 1, reg.touched["sub-0"])
	assert.Equal(t, 1, reg.touched["sub-2"])
	assert.Zero(t, reg.touched["sub-1"])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "sub-1", result.Errors[0].DeviceID)
	assert.True(t, strings.HasSuffix(result.Errors[0].Endpoint, "..."))
	assert.Len(t, result.Errors[0].Endpoint, 53)
}

func TestDispatch_DecryptFailureIsSyntheticPermanent(t *testing.T) {
	subs := makeSubscribers(3)
	subs[0].EncryptedKeys.Ciphertext = "corrupt"
	reg := newFakeRegistry(subs...)
	tr := &fakeTransport{}
	engine := createTestEngine(t, reg, tr, &fakeAudit{})

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.StatusInactive, reg.statuses["sub-0"])

	// the corrupt subscriber never reaches the transport
	assert.Len(t, tr.calls, 2)
	assert.NotContains(t, tr.calls, subs[0].Endpoint)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "key integrity check failed", result.Errors[0].Error)
}

func TestDispatch_TransientFailureLeavesStateAlone(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(2)...)
	tr := &fakeTransport{
		respond: func(endpoint string) error {
			return &apperrors.TransportError{StatusCode: 503, Permanent: false, Message: "push service rejected the request"}
		},
	}
	engine := createTestEngine(t, reg, tr, &fakeAudit{})

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, reg.statuses)
	assert.Empty(t, reg.touched)
}

func TestDispatch_NoRecipients(t *testing.T) {
	reg := newFakeRegistry()
	sink := &fakeAudit{}
	engine := createTestEngine(t, reg, &fakeTransport{}, sink)

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{Tags: []string{"nobody"}}, "admin")
	require.NoError(t, err)

	assert.True(t, result.NoRecipients)
	assert.Equal(t, 0, result.Targeted)
	assert.Empty(t, sink.records)
}

func TestDispatch_RequestValidation(t *testing.T) {
	engine := createTestEngine(t, newFakeRegistry(), &fakeTransport{}, &fakeAudit{})

	_, err := engine.Dispatch(context.Background(), &models.NotificationRequest{Body: "no title"}, models.Selector{}, "admin")
	assert.True(t, errors.Is(err, apperrors.ErrRequestInvalid))
}

func TestDispatch_RegistryUnavailable(t *testing.T) {
	reg := newFakeRegistry()
	reg.findErr = apperrors.NewRegistryUnavailableError(errors.New("connection refused"))
	engine := createTestEngine(t, reg, &fakeTransport{}, &fakeAudit{})

	_, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	assert.True(t, errors.Is(err, apperrors.ErrRegistryUnavailable))
}

func TestDispatch_AuditFailureDoesNotFailDispatch(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(1)...)
	sink := &fakeAudit{err: errors.New("table missing")}
	engine := createTestEngine(t, reg, &fakeTransport{}, sink)

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestDispatch_ErrorListIsCapped(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(5)...)
	tr := &fakeTransport{
		respond: func(string) error {
			return &apperrors.TransportError{StatusCode: 500, Message: "push service rejected the request"}
		},
	}
	engine := NewEngine(fakeVault{}, reg, tr, &fakeAudit{}, Config{
		BatchSize:   10,
		BatchDelay:  time.Millisecond,
		SendTimeout: time.Second,
		MaxErrors:   2,
	}, logger.NewTestLogger(t))

	result, err := engine.Dispatch(context.Background(), createRequest(), models.Selector{}, "admin")
	require.NoError(t, err)

	// counts stay exact even when the detail list is truncated
	assert.Equal(t, 5, result.Failed)
	assert.Len(t, result.Errors, 2)
}

func TestDispatch_IdempotencyIDCarriedThrough(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(1)...)
	engine := createTestEngine(t, reg, &fakeTransport{}, &fakeAudit{})

	req := createRequest()
	req.IdempotencyID = "notif-fixed"

	result, err := engine.Dispatch(context.Background(), req, models.Selector{}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "notif-fixed", result.NotificationID)
}

// ==========================
// Payload Shape Tests
// ==========================

func TestDispatch_PayloadWireShape(t *testing.T) {
	reg := newFakeRegistry(makeSubscribers(1)...)
	tr := &fakeTransport{}
	engine := createTestEngine(t, reg, tr, &fakeAudit{})

	req := createRequest()
	req.IdempotencyID = "notif-1"

	_, err := engine.Dispatch(context.Background(), req, models.Selector{}, "admin")
	require.NoError(t, err)
	require.Len(t, tr.payloads, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(tr.payloads[0], &payload))

	assert.Equal(t, "Release day", payload["title"])
	assert.Equal(t, "v2 is out", payload["body"])
	assert.Equal(t, models.DefaultIcon, payload["icon"])
	assert.Equal(t, models.DefaultBadge, payload["badge"])
	assert.Equal(t, models.DefaultTag, payload["tag"])
	assert.Equal(t, false, payload["requireInteraction"])
	assert.Equal(t, []interface{}{}, payload["actions"])

	data := payload["data"].(map[string]interface{})
	assert.Equal(t, models.DefaultURL, data["url"])
	assert.Equal(t, "notif-1", data["id"])
	assert.NotEmpty(t, data["timestamp"])
}

// ==========================
// Single Send Tests
// ==========================

func TestDispatchSingle(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		reg := newFakeRegistry(makeSubscribers(2)...)
		engine := createTestEngine(t, reg, &fakeTransport{}, &fakeAudit{})

		outcome, err := engine.DispatchSingle(context.Background(), "sub-1", createRequest())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDelivered, outcome.Class)
		assert.Equal(t, 1, reg.touched["sub-1"])
	})

	t.Run("unknown subscriber", func(t *testing.T) {
		reg := newFakeRegistry()
		engine := createTestEngine(t, reg, &fakeTransport{}, &fakeAudit{})

		_, err := engine.DispatchSingle(context.Background(), "ghost", createRequest())
		assert.True(t, errors.Is(err, apperrors.ErrSubscriberNotFound))
	})

	t.Run("gone endpoint deactivates", func(t *testing.T) {
		reg := newFakeRegistry(makeSubscribers(1)...)
		tr := &fakeTransport{
			respond: func(string) error {
				return &apperrors.TransportError{StatusCode: 404, Permanent: true, Message: "subscription gone at push service"}
			},
		}
		engine := createTestEngine(t, reg, tr, &fakeAudit{})

		outcome, err := engine.DispatchSingle(context.Background(), "sub-0", createRequest())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomePermanentFailure, outcome.Class)
		assert.Equal(t, models.StatusInactive, reg.statuses["sub-0"])
	})
}
