package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"imovia/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the vendor's HMAC over the raw body
const SignatureHeader = "X-Hub-Signature-256"

const processTimeout = 30 * time.Second

// Deduper is the idempotency gate consulted before enqueueing
type Deduper interface {
	Seen(externalID string) (bool, error)
}

// Enqueuer accepts normalized messages for asynchronous processing
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, msg models.InboundMessage) error
}

// Handler exposes the platform webhook endpoints. The receive path must
// answer within the platform's ~5 second deadline, so it only verifies the
// signature and acknowledges; parsing, dedup and enqueueing run afterwards
// in a goroutine.
type Handler struct {
	verifyToken string
	appSecret   string
	normalizer  *Normalizer
	dedup       Deduper
	queue       Enqueuer
	logger      zerolog.Logger
}

// NewHandler creates a webhook handler. An empty appSecret disables
// signature verification (local development).
func NewHandler(verifyToken, appSecret string, normalizer *Normalizer, dedup Deduper, queue Enqueuer, logger zerolog.Logger) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		normalizer:  normalizer,
		dedup:       dedup,
		queue:       queue,
		logger:      logger,
	}
}

// VerifyChallenge handles the platform's subscription handshake
func (h *Handler) VerifyChallenge(c echo.Context) error {
	mode := c.QueryParam("mode")
	token := c.QueryParam("verifyToken")
	challenge := c.QueryParam("challenge")

	if mode == "subscribe" && subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		return c.String(http.StatusOK, challenge)
	}

	h.logger.Warn().Str("mode", mode).Msg("webhook verification rejected")
	return c.NoContent(http.StatusForbidden)
}

// Receive handles inbound webhook deliveries. Responds 200 or 401, never
// 5xx: internal failures go through the dead-letter path instead of
// triggering platform retries.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if h.appSecret != "" {
		signature := c.Request().Header.Get(SignatureHeader)
		if !VerifySignature(body, signature, h.appSecret) {
			h.logger.Warn().Bool("header_present", signature != "").Msg("webhook signature rejected")
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:    "invalid signature",
				Category: "boundary",
			})
		}
	}

	// Ack first; everything past signature verification happens off the
	// request path.
	go h.process(body)

	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

// process parses, normalizes, dedups and enqueues one raw delivery
func (h *Handler) process(body []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("panic processing webhook delivery")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn().Err(err).Msg("unparseable webhook payload dropped")
		return
	}

	for _, msg := range h.normalizer.Normalize(&payload) {
		seen, err := h.dedup.Seen(msg.ExternalID)
		if err != nil {
			h.logger.Error().Err(err).Str("external_id", msg.ExternalID).Msg("dedup check failed, enqueueing anyway")
		} else if seen {
			// Duplicate delivery is expected under at-least-once webhooks
			h.logger.Debug().Str("external_id", msg.ExternalID).Msg("duplicate message dropped")
			continue
		}

		if err := h.queue.Enqueue(ctx, msg.FromAddress, msg); err != nil {
			h.logger.Error().Err(err).
				Str("external_id", msg.ExternalID).
				Str("from", msg.FromAddress).
				Msg("failed to enqueue inbound message")
			continue
		}

		h.logger.Info().
			Str("external_id", msg.ExternalID).
			Str("from", msg.FromAddress).
			Str("kind", msg.Kind).
			Msg("inbound message enqueued")
	}
}
