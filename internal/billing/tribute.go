// Package billing provides Tribute payment integration for premium grants.
//
// Tribute has no SDK: it delivers signed webhook events over plain HTTP.
// This package owns signature verification and envelope decoding; the
// subscription service owns what a verified event does.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "trbt-signature"

// EventNewDigitalProduct is the purchase event that grants premium days.
const EventNewDigitalProduct = "new_digital_product"

// Service defines the interface for payment provider operations.
type Service interface {
	// VerifyWebhookSignature checks the HMAC-SHA256 signature over the raw
	// webhook body. A verification failure means the request did not come
	// from Tribute and must be rejected.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseEvent decodes a verified webhook body into its envelope.
	ParseEvent(payload []byte) (Event, error)
}

// Event is the decoded webhook envelope. Payload is only meaningful for
// event names this service recognizes.
type Event struct {
	Name      string                `json:"name"`
	CreatedAt time.Time             `json:"created_at"`
	SentAt    time.Time             `json:"sent_at"`
	Payload   NewDigitalProductData `json:"payload"`
}

// NewDigitalProductData is the purchase payload.
type NewDigitalProductData struct {
	PurchaseID     int64  `json:"purchase_id"`
	TelegramUserID int64  `json:"telegram_user_id"`
	ProductID      int64  `json:"product_id"`
	Amount         int64  `json:"amount"`   // Kopecks
	Currency       string `json:"currency"` // "rub"
}

// PaymentEvent normalizes the purchase into the ledger's input. The
// idempotency key is the provider purchase id, unique per payment.
func (e Event) PaymentEvent() domain.PaymentEvent {
	return domain.PaymentEvent{
		EventID:   fmt.Sprintf("tribute:%d", e.Payload.PurchaseID),
		UserID:    e.Payload.TelegramUserID,
		Amount:    e.Payload.Amount,
		ProductID: fmt.Sprintf("%d", e.Payload.ProductID),
	}
}

// tributeService is the concrete implementation of Service.
type tributeService struct {
	apiKey []byte
}

// NewTributeService creates a new Tribute billing service. The apiKey signs
// webhook deliveries; it is the only credential Tribute issues.
func NewTributeService(apiKey string) Service {
	return &tributeService{apiKey: []byte(apiKey)}
}

func (s *tributeService) VerifyWebhookSignature(payload []byte, signature string) error {
	if len(s.apiKey) == 0 {
		return fmt.Errorf("tribute api key is not configured")
	}
	if signature == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}

	mac := hmac.New(sha256.New, s.apiKey)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time compare; the signature is attacker-controlled input.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("webhook signature mismatch")
	}
	return nil
}

func (s *tributeService) ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decoding tribute event: %w", err)
	}
	if event.Name == "" {
		return Event{}, fmt.Errorf("tribute event has no name")
	}
	return event, nil
}

// Sign computes the signature Tribute would attach to the payload. Exported
// for webhook tests and local replay tooling.
func Sign(apiKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
