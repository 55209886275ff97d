package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// SignatureHeader carries the signature when it is not in the body.
const SignatureHeader = "x-payos-signature"

const signatureField = "signature"

// Verifier checks HMAC-SHA256 signatures made with a shared secret.  It
// never mutates anything; applying the payment is up to the caller.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the gateway checksum key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC of the payload's canonical string.
// A signature member, if present, is not signed.
func (v *Verifier) Sign(payload Value) string {
	return hex.EncodeToString(v.mac(payload))
}

func (v *Verifier) mac(payload Value) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(Canonicalize(payload.Without(signatureField))))
	return m.Sum(nil)
}

// Verify reports whether body is an object carrying a valid signature,
// taken from headerSignature or else from the body's signature member.
// The comparison runs in constant time.
func (v *Verifier) Verify(headerSignature string, body []byte) bool {
	payload, err := ParseValue(body)
	if err != nil || payload.Kind() != KindObject {
		return false
	}
	claimed := strings.TrimSpace(headerSignature)
	if claimed == "" {
		if s, ok := payload.Field(signatureField); ok && s.Kind() == KindString {
			claimed = strings.TrimSpace(s.Str())
		}
	}
	if claimed == "" {
		return false
	}
	got, err := hex.DecodeString(claimed)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.mac(payload))
}

// ErrMissingField is returned when a notification lacks a required field.
var ErrMissingField = errors.New("webhook payload missing field")

// ExtractEvent reads the payment event from a notification.  Fields are
// taken from the top level, or from a nested data object when the top
// level has no orderCode.
func ExtractEvent(body []byte) (model.WebhookEvent, error) {
	payload, err := ParseValue(body)
	if err != nil {
		return model.WebhookEvent{}, err
	}
	if payload.Kind() != KindObject {
		return model.WebhookEvent{}, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}
	src := payload
	if _, ok := payload.Field("orderCode"); !ok {
		if data, ok := payload.Field("data"); ok && data.Kind() == KindObject {
			src = data
		}
	}

	var ev model.WebhookEvent
	if ev.OrderCode = scalarText(src, "orderCode"); ev.OrderCode == "" {
		return ev, fmt.Errorf("%w: orderCode", ErrMissingField)
	}
	if ev.Status = strings.ToUpper(scalarText(src, "status")); ev.Status == "" {
		return ev, fmt.Errorf("%w: status", ErrMissingField)
	}
	if amount := scalarText(src, "amount"); amount != "" {
		n, err := strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return ev, fmt.Errorf("%w: amount %q is not an integer", ErrMalformedPayload, amount)
		}
		ev.Amount = n
	}
	ev.TransactionID = scalarText(src, "transactionId")
	if ev.TransactionID == "" {
		ev.TransactionID = scalarText(src, "reference")
	}
	return ev, nil
}

// scalarText returns a string or number member as text.
func scalarText(obj Value, key string) string {
	f, ok := obj.Field(key)
	if !ok {
		return ""
	}
	switch f.Kind() {
	case KindString:
		return strings.TrimSpace(f.Str())
	case KindNumber:
		return f.NumberText()
	}
	return ""
}
