// Package gateway is the boundary to the external payment gateway: it
// authenticates and decodes payment notifications.
//
// The gateway signs each notification body with the merchant's API secret
// and sends the base64 HMAC-SHA256 in the Content-HMAC header. Bodies arrive
// either form-encoded or as JSON.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/model"
)

// HeaderSignature carries the body signature.
const HeaderSignature = "Content-HMAC"

// maxBodyBytes bounds a notification body.
const maxBodyBytes = 64 << 10

var (
	// ErrBadSignature is returned when a notification's signature does
	// not match its body.
	ErrBadSignature = errors.New("gateway: bad signature")

	// ErrMalformed is returned for bodies that cannot be decoded.
	ErrMalformed = errors.New("gateway: malformed notification")
)

// Signer signs and verifies notification bodies. A Signer with an empty
// secret accepts every body.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the merchant API secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Enabled reports whether signatures are checked.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Sign returns the base64 HMAC-SHA256 of body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body.
func (s *Signer) Verify(body []byte, signature string) bool {
	if !s.Enabled() {
		return true
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ReadNotification reads, authenticates and decodes a notification request.
func (s *Signer) ReadNotification(r *http.Request) (model.PaymentNotification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return model.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !s.Verify(body, r.Header.Get(HeaderSignature)) {
		return model.PaymentNotification{}, ErrBadSignature
	}
	return ParseNotification(r.Header.Get("Content-Type"), body)
}

// ParseNotification decodes a JSON or form-encoded notification body.
//
// Identifiers may arrive as JSON strings or numbers and are kept as text.
// The amount is only validated for completed payments; any other status is
// returned as-is so it can be acknowledged without being applied.
func ParseNotification(contentType string, body []byte) (model.PaymentNotification, error) {
	var raw wireNotification
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		if err := json.Unmarshal(body, &raw); err != nil {
			return model.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return model.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = wireNotification{
			TransactionID: field(form.Get("TransactionId")),
			AccountID:     field(form.Get("AccountId")),
			Amount:        field(form.Get("Amount")),
			Currency:      field(form.Get("Currency")),
			Status:        field(form.Get("Status")),
		}
	}

	n := model.PaymentNotification{
		TransactionID: raw.TransactionID.text(),
		AccountID:     raw.AccountID.text(),
		Currency:      raw.Currency.text(),
		Status:        raw.Status.text(),
	}
	if amount := raw.Amount.text(); amount != "" {
		v, err := decimal.NewFromString(amount)
		if err != nil {
			if n.Completed() {
				return model.PaymentNotification{}, fmt.Errorf("%w: amount %q", ErrMalformed, amount)
			}
			return n, nil
		}
		n.Amount = v
	}
	return n, nil
}

// wireNotification is a notification body before validation.
type wireNotification struct {
	TransactionID field `json:"TransactionId"`
	AccountID     field `json:"AccountId"`
	Amount        field `json:"Amount"`
	Currency      field `json:"Currency"`
	Status        field `json:"Status"`
}

// field holds a JSON value as text. Strings are unquoted; numbers and other
// literals keep their JSON spelling, so a numeric TransactionId of 504 reads
// as "504".
type field string

func (f *field) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = field(s)
	default:
		*f = field(b)
	}
	return nil
}

func (f field) text() string {
	return strings.TrimSpace(string(f))
}
