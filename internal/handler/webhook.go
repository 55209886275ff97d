package handler

import (
    "context"
    "io"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/bus-seat-booking/internal/model"
    "github.com/iliyamo/bus-seat-booking/internal/webhook"
)

// maxWebhookBody bounds notification bodies; gateway payloads are a few
// hundred bytes.
const maxWebhookBody = 64 << 10

// PaymentEvents applies verified payment notifications.
type PaymentEvents interface {
    HandlePaymentEvent(ctx context.Context, ev model.WebhookEvent) error
}

// WebhookHandler serves POST /v1/webhooks/payos.
type WebhookHandler struct {
    responder
    verifier *webhook.Verifier
    events   PaymentEvents
}

// NewWebhookHandler panics if the verifier or events is nil.
func NewWebhookHandler(verifier *webhook.Verifier, events PaymentEvents, logger *logrus.Logger) *WebhookHandler {
    if verifier == nil || events == nil {
        panic("nil dependency passed to NewWebhookHandler")
    }
    return &WebhookHandler{responder: newResponder(logger), verifier: verifier, events: events}
}

// PayOS checks the signature over the raw body before anything else.
// Unsigned or tampered notifications get 401 and change nothing.
func (h *WebhookHandler) PayOS(c echo.Context) error {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
    if err != nil {
        return badRequest(c, "could not read body")
    }
    if len(body) > maxWebhookBody {
        return c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
    }
    if !h.verifier.Verify(c.Request().Header.Get(webhook.SignatureHeader), body) {
        h.requestLog(c).Warn("payos webhook rejected: invalid signature")
        return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "INVALID_SIGNATURE"})
    }
    ev, err := webhook.ExtractEvent(body)
    if err != nil {
        return h.writeError(c, err)
    }
    if err := h.events.HandlePaymentEvent(c.Request().Context(), ev); err != nil {
        return h.writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}
