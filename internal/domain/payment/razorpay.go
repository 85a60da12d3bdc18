package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/xenking/bazaar/internal/domain/order"
)

// Razorpay accepts at most 15 notes of up to 256 characters each. One note
// carries the user id.
const (
	razorpayNoteLimit = 256
	razorpayIDNotes   = 14
)

// RazorpayOrders creates gateway orders.
type RazorpayOrders interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)
}

// RazorpayConfirmation is what the buyer's browser relays after checkout.
type RazorpayConfirmation struct {
	OrderIDs          []string
	RazorpayOrderID   string
	RazorpayPaymentID string
	Signature         string
}

// Razorpay creates one gateway order covering every store order.
type Razorpay struct {
	client    RazorpayOrders
	keySecret []byte
}

// NewRazorpay creates the adapter. keySecret signs payment confirmations.
func NewRazorpay(client RazorpayOrders, keySecret string) *Razorpay {
	return &Razorpay{client: client, keySecret: []byte(keySecret)}
}

// Method implements Adapter.
func (r *Razorpay) Method() order.PaymentMethod { return order.PaymentRazorpay }

// Initiate implements Adapter.
func (r *Razorpay) Initiate(ctx context.Context, req Request) (*Session, error) {
	if len(req.OrderIDs) == 0 {
		return nil, fmt.Errorf("no orders to pay for")
	}
	amount := ToMinorUnits(req.Amount)
	notes := map[string]string{"userId": req.UserID}
	if err := putOrderIDs(notes, req.OrderIDs, razorpayNoteLimit, razorpayIDNotes); err != nil {
		return nil, fmt.Errorf("razorpay notes: %w: %w", ErrGateway, err)
	}

	id, err := r.client.CreateOrder(ctx, amount, req.Currency, req.OrderIDs[0], notes)
	if err != nil {
		return nil, fmt.Errorf("create razorpay order: %w: %w", ErrGateway, err)
	}

	return &Session{
		Method:         order.PaymentRazorpay,
		Status:         SessionPending,
		GatewayOrderID: id,
		Amount:         amount,
		Currency:       req.Currency,
	}, nil
}

// Verify checks the confirmation signature. The expected signature is the
// hex HMAC-SHA256 of "<razorpay order id>|<razorpay payment id>".
func (r *Razorpay) Verify(c RazorpayConfirmation) error {
	if c.RazorpayOrderID == "" || c.RazorpayPaymentID == "" || c.Signature == "" {
		return fmt.Errorf("incomplete confirmation: %w", ErrVerificationFailed)
	}
	got, err := hex.DecodeString(c.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", ErrVerificationFailed)
	}
	if !hmac.Equal(got, r.sign(c.RazorpayOrderID, c.RazorpayPaymentID)) {
		return fmt.Errorf("signature mismatch: %w", ErrVerificationFailed)
	}
	return nil
}

// Sign returns the hex signature the gateway produces for a payment.
func (r *Razorpay) Sign(razorpayOrderID, razorpayPaymentID string) string {
	return hex.EncodeToString(r.sign(razorpayOrderID, razorpayPaymentID))
}

func (r *Razorpay) sign(razorpayOrderID, razorpayPaymentID string) []byte {
	mac := hmac.New(sha256.New, r.keySecret)
	mac.Write([]byte(razorpayOrderID + "|" + razorpayPaymentID))
	return mac.Sum(nil)
}
