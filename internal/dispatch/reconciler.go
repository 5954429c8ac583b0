// internal/dispatch/reconciler.go
package dispatch

import (
	"context"

	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/common/metrics"
	"push-dispatch/internal/models"
)

// Reconciler turns delivery outcomes into subscriber state: delivered
// touches the last-notified timestamp, permanent failure deactivates
// the subscriber, transient failure changes nothing. Registry write
// failures are logged and swallowed; they never reach the caller.
type Reconciler struct {
	registry SubscriberRegistry
	log      logger.Logger
}

func NewReconciler(registry SubscriberRegistry, log logger.Logger) *Reconciler {
	return &Reconciler{registry: registry, log: log}
}

// Apply processes every outcome independently. Deactivation is
// idempotent; reapplying it to an already-inactive subscriber is a
// no-op.
func (r *Reconciler) Apply(ctx context.Context, outcomes []models.DeliveryOutcome) {
	for _, outcome := range outcomes {
		metrics.DeliveryOutcomes.WithLabelValues(outcome.Class).Inc()

		switch outcome.Class {
		case models.OutcomeDelivered:
			if err := r.registry.TouchLastNotified(ctx, outcome.SubscriberID); err != nil {
				r.logWriteFailure(outcome.SubscriberID, err)
			}
		case models.OutcomePermanentFailure:
			if err := r.registry.SetStatus(ctx, outcome.SubscriberID, models.StatusInactive); err != nil {
				r.logWriteFailure(outcome.SubscriberID, err)
				continue
			}
			metrics.SubscribersDeactivated.Inc()
			r.log.Info("subscriber deactivated after permanent delivery failure", map[string]interface{}{
				"subscriberId": outcome.SubscriberID,
				"statusCode":   outcome.StatusCode,
			})
		case models.OutcomeTransientFailure:
			// eligible again on the next dispatch
		}
	}
}

func (r *Reconciler) logWriteFailure(subscriberID string, err error) {
	werr := apperrors.NewReconcileWriteError(subscriberID, err)
	r.log.Warn(werr.Message, map[string]interface{}{
		"subscriberId": subscriberID,
		"error":        err.Error(),
	})
}
