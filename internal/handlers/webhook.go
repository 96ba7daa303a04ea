package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/eventsub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

// maxWebhookBody caps how much of a webhook request we read. Provider
// notifications are small; anything bigger is garbage.
const maxWebhookBody = 1 << 20

// EventSub message types delivered to the webhook callback
const (
	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

type webhookEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

// HandleTwitchWebhook terminates POST /webhooks/twitch. The raw body is
// verified against the signature headers before any JSON parsing; every
// verification failure gets the same flat 403 so the response can't be used
// as an oracle.
func (h *Handlers) HandleTwitchWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.countWebhook("read_error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if err := eventsub.VerifySignature(c.Request.Header, rawBody, h.webhookSecret); err != nil {
		h.countWebhook("bad_signature")
		h.logger.WithError(err).Warn("Webhook signature rejected")
		c.JSON(http.StatusForbidden, gin.H{"error": "signature verification failed"})
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		h.countWebhook("invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch c.GetHeader(eventsub.HeaderMessageType) {
	case messageTypeVerification:
		h.countWebhook("verification")
		c.String(http.StatusOK, envelope.Challenge)

	case messageTypeRevocation:
		h.countWebhook("revocation")
		h.logger.WithFields(logging.Fields{
			"subscription_id":   envelope.Subscription.ID,
			"subscription_type": envelope.Subscription.Type,
		}).Warn("Subscription revoked by provider")
		c.Status(http.StatusOK)

	case messageTypeNotification:
		messageID := c.GetHeader(eventsub.HeaderMessageID)
		if h.replay.Seen(c.Request.Context(), messageID) {
			h.countWebhook("duplicate")
			c.Status(http.StatusOK)
			return
		}

		if err := h.processor.Process(c.Request.Context(), envelope.Subscription.Type, envelope.Event); err != nil {
			h.countWebhook("process_error")
			h.logger.WithError(err).WithField("subscription_type", envelope.Subscription.Type).
				Error("Failed to process notification")
			// Still 200: the provider retries non-2xx responses and a
			// poisoned event would retry forever.
			c.Status(http.StatusOK)
			return
		}

		h.countWebhook("ok")
		c.Status(http.StatusOK)

	default:
		h.countWebhook("unknown_type")
		c.Status(http.StatusOK)
	}
}

func (h *Handlers) countWebhook(result string) {
	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(result).Inc()
	}
}
