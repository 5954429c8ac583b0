// internal/transport/webpush.go

// Package transport sends sealed notification payloads to browser push
// services and classifies every outcome as success, permanent failure,
// or transient failure. Classification happens here and nowhere else.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"push-dispatch/internal/common/config"
	apperrors "push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// WebPush delivers payloads over the Web Push protocol with VAPID
// authentication.
type WebPush struct {
	publicKey  string
	privateKey string
	subject    string
	client     *http.Client
	log        logger.Logger
}

func NewWebPush(cfg config.PushConfig, timeout time.Duration, log logger.Logger) *WebPush {
	return &WebPush{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subject:    cfg.Subject,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Send pushes one payload to one endpoint. A nil return means the push
// service accepted the message; any error is a *TransportError with the
// permanent/transient decision already made.
func (t *WebPush) Send(ctx context.Context, endpoint string, keys models.KeyMaterial, payload []byte, ttl int) error {
	sub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			Auth:   keys.Auth,
			P256dh: keys.P256dh,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.subject,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return &apperrors.TransportError{
			Permanent: false,
			Message:   fmt.Sprintf("push request failed: %v", err),
		}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	return classify(resp.StatusCode)
}

// classify maps a push service status code to an outcome. 404 and 410
// mean the subscription no longer exists at the service; everything
// else non-2xx is worth retrying on a later dispatch.
func classify(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return &apperrors.TransportError{
			StatusCode: statusCode,
			Permanent:  true,
			Message:    "subscription gone at push service",
		}
	default:
		return &apperrors.TransportError{
			StatusCode: statusCode,
			Permanent:  false,
			Message:    "push service rejected the request",
		}
	}
}
