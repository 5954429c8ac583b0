// internal/dispatch/engine.go

// Package dispatch fans a single logical notification out to many
// subscribers in fixed-size batches, isolates per-recipient failures,
// and reconciles delivery outcomes back into subscriber state.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"push-dispatch/internal/audit"
	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
	"push-dispatch/internal/common/validation"
	"push-dispatch/internal/models"
)

// KeyVault opens sealed subscriber key material.
type KeyVault interface {
	Decrypt(blob models.EncryptedBlob) (models.KeyMaterial, error)
}

// SubscriberRegistry is the engine's view of the subscription store.
// The two writers are idempotent; applying them to an unknown id is a
// no-op success.
type SubscriberRegistry interface {
	FindActiveBySelector(ctx context.Context, sel models.Selector) ([]models.Subscriber, error)
	FindActiveByID(ctx context.Context, id string) (models.Subscriber, error)
	SetStatus(ctx context.Context, id, status string) error
	TouchLastNotified(ctx context.Context, id string) error
}

// PushTransport delivers one payload to one endpoint. Errors are
// *errors.TransportError with the permanent/transient decision already
// made by the adapter.
type PushTransport interface {
	Send(ctx context.Context, endpoint string, keys models.KeyMaterial, payload []byte, ttl int) error
}

// AuditSink records completed dispatches, best-effort.
type AuditSink interface {
	RecordSend(ctx context.Context, rec audit.SendRecord) error
}

// Config holds the fan-out tunables.
type Config struct {
	BatchSize   int
	BatchDelay  time.Duration
	SendTimeout time.Duration
	MaxErrors   int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 100 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 100
	}
	return c
}

// Engine coordinates selection, fan-out, and reconciliation for one
// notification at a time. It is safe for concurrent use.
type Engine struct {
	vault      KeyVault
	registry   SubscriberRegistry
	transport  PushTransport
	audit      AuditSink
	reconciler *Reconciler
	cfg        Config
	log        logger.Logger
}

func NewEngine(vault KeyVault, registry SubscriberRegistry, transport PushTransport, sink AuditSink, cfg Config, log logger.Logger) *Engine {
	return &Engine{
		vault:      vault,
		registry:   registry,
		transport:  transport,
		audit:      sink,
		reconciler: NewReconciler(registry, log),
		cfg:        cfg.withDefaults(),
		log:        log,
	}
}

// Dispatch sends one notification to every subscriber the selector
// matches. It returns an error only for a bad request shape or an
// unavailable registry; delivery failures are aggregated into the
// result, never raised.
func (e *Engine) Dispatch(ctx context.Context, req *models.NotificationRequest, sel models.Selector, actor string) (*models.DispatchResult, error) {
	if result := validation.ValidateNotifyRequest(req); !result.Valid {
		return nil, apperrors.NewRequestInvalidError(result.FirstError())
	}

	notificationID := req.IdempotencyID
	if notificationID == "" {
		notificationID = uuid.New().String()
	}
	metrics.DispatchesTotal.WithLabelValues("fanout").Inc()

	recipients, err := e.registry.FindActiveBySelector(ctx, sel)
	if err != nil {
		return nil, err
	}

	result := &models.DispatchResult{
		NotificationID: notificationID,
		Targeted:       len(recipients),
		SentAt:         time.Now().UTC(),
	}
	if len(recipients) == 0 {
		result.NoRecipients = true
		e.log.Info("dispatch matched no active subscribers", map[string]interface{}{
			"notificationId": notificationID,
		})
		return result, nil
	}

	payload, err := marshalPayload(req, notificationID, result.SentAt)
	if err != nil {
		return nil, apperrors.NewRequestInvalidError(err.Error())
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = models.DefaultTTL
	}

	outcomes := e.fanOut(ctx, recipients, payload, ttl)
	e.reconciler.Apply(ctx, outcomes)

	for i, outcome := range outcomes {
		if outcome.Class == models.OutcomeDelivered {
			result.Sent++
			continue
		}
		result.Failed++
		if len(result.Errors) < e.cfg.MaxErrors {
			result.Errors = append(result.Errors, models.SendFailure{
				DeviceID: outcome.SubscriberID,
				Endpoint: truncateEndpoint(recipients[i].Endpoint),
				Error:    outcome.Detail,
			})
		}
	}

	if err := e.audit.RecordSend(ctx, audit.SendRecord{
		NotificationID: notificationID,
		Title:          req.Title,
		Body:           req.Body,
		Targeted:       result.Targeted,
		Sent:           result.Sent,
		Failed:         result.Failed,
		Actor:          actor,
	}); err != nil {
		e.log.Warn("audit record write failed", map[string]interface{}{
			"notificationId": notificationID,
			"error":          err.Error(),
		})
	}

	e.log.Info("dispatch complete", map[string]interface{}{
		"notificationId": notificationID,
		"targeted":       result.Targeted,
		"sent":           result.Sent,
		"failed":         result.Failed,
	})
	return result, nil
}

// DispatchSingle sends one notification to one active subscriber, used
// for test sends. The outcome is reconciled the same way a fan-out
// outcome is.
func (e *Engine) DispatchSingle(ctx context.Context, subscriberID string, req *models.NotificationRequest) (*models.DeliveryOutcome, error) {
	if result := validation.ValidateNotifyRequest(req); !result.Valid {
		return nil, apperrors.NewRequestInvalidError(result.FirstError())
	}

	notificationID := req.IdempotencyID
	if notificationID == "" {
		notificationID = uuid.New().String()
	}
	metrics.DispatchesTotal.WithLabelValues("single").Inc()

	sub, err := e.registry.FindActiveByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	payload, err := marshalPayload(req, notificationID, time.Now().UTC())
	if err != nil {
		return nil, apperrors.NewRequestInvalidError(err.Error())
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = models.DefaultTTL
	}

	outcome := e.sendOne(ctx, sub, payload, ttl)
	e.reconciler.Apply(ctx, []models.DeliveryOutcome{outcome})
	return &outcome, nil
}

// fanOut partitions recipients into fixed-size batches, preserving
// order, and sends each batch concurrently with a strict join before
// the next batch starts. Exactly one outcome per recipient comes back,
// positionally aligned with the input.
func (e *Engine) fanOut(ctx context.Context, recipients []models.Subscriber, payload []byte, ttl int) []models.DeliveryOutcome {
	outcomes := make([]models.DeliveryOutcome, len(recipients))

	for start := 0; start < len(recipients); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		batchStart := time.Now()
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int, sub models.Subscriber) {
				defer wg.Done()
				outcomes[idx] = e.sendOne(ctx, sub, payload, ttl)
			}(i, recipients[i])
		}
		wg.Wait()
		metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())

		if end < len(recipients) {
			time.Sleep(e.cfg.BatchDelay)
		}
	}
	return outcomes
}

// sendOne produces the outcome for a single recipient. Every failure
// path returns an outcome rather than an error; nothing here can abort
// a sibling send.
func (e *Engine) sendOne(ctx context.Context, sub models.Subscriber, payload []byte, ttl int) models.DeliveryOutcome {
	keys, err := e.vault.Decrypt(sub.EncryptedKeys)
	if err != nil {
		e.log.Error("sealed keys failed integrity check", map[string]interface{}{
			"subscriberId": sub.ID,
		})
		return models.DeliveryOutcome{
			SubscriberID: sub.ID,
			Class:        models.OutcomePermanentFailure,
			Detail:       "key integrity check failed",
		}
	}

	metrics.InFlightSends.Inc()
	defer metrics.InFlightSends.Dec()

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()

	err = e.transport.Send(sendCtx, sub.Endpoint, keys, payload, ttl)
	if err == nil {
		return models.DeliveryOutcome{
			SubscriberID: sub.ID,
			Class:        models.OutcomeDelivered,
		}
	}

	if terr, ok := apperrors.AsTransportError(err); ok {
		class := models.OutcomeTransientFailure
		if terr.Permanent {
			class = models.OutcomePermanentFailure
		}
		return models.DeliveryOutcome{
			SubscriberID: sub.ID,
			Class:        class,
			StatusCode:   terr.StatusCode,
			Detail:       terr.Message,
		}
	}

	// context deadline or an adapter bug; treat as retryable
	return models.DeliveryOutcome{
		SubscriberID: sub.ID,
		Class:        models.OutcomeTransientFailure,
		Detail:       fmt.Sprintf("send failed: %v", err),
	}
}

func marshalPayload(req *models.NotificationRequest, notificationID string, sentAt time.Time) ([]byte, error) {
	payload := models.Payload{
		Title:              req.Title,
		Body:               req.Body,
		Icon:               req.Icon,
		Badge:              req.Badge,
		Actions:            req.Actions,
		Tag:                req.Tag,
		RequireInteraction: req.RequireInteraction,
		Data: models.PayloadData{
			URL:       req.URL,
			ID:        notificationID,
			Timestamp: strconv.FormatInt(sentAt.UnixMilli(), 10),
		},
	}
	if payload.Icon == "" {
		payload.Icon = models.DefaultIcon
	}
	if payload.Badge == "" {
		payload.Badge = models.DefaultBadge
	}
	if payload.Tag == "" {
		payload.Tag = models.DefaultTag
	}
	if payload.Data.URL == "" {
		payload.Data.URL = models.DefaultURL
	}
	if payload.Actions == nil {
		payload.Actions = []models.Action{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return encoded, nil
}

// truncateEndpoint keeps at most a 50-char prefix so full delivery
// addresses never appear in results or logs.
func truncateEndpoint(endpoint string) string {
	if len(endpoint) <= 50 {
		return endpoint
	}
	return endpoint[:50] + "..."
}
