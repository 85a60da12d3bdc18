// Package razorpay is a minimal client for the Razorpay Orders API.
package razorpay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return "razorpay: status " + http.StatusText(e.Status)
	}
	return "razorpay: " + e.Code + ": " + e.Description
}

// Order is a gateway order as returned by POST /v1/orders.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// Client talks to Razorpay using key-id/key-secret basic auth.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client.
func New(keyID, keySecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateOrder creates a gateway order for amount minor units and returns its id.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	o, err := c.Create(ctx, amount, currency, receipt, notes)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// Create is CreateOrder returning the full gateway order.
func (c *Client) Create(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(amount)
	e.FieldStart("currency")
	e.Str(currency)
	e.FieldStart("receipt")
	e.Str(truncate(receipt, 40))
	if len(notes) > 0 {
		e.FieldStart("notes")
		e.ObjStart()
		for k, v := range notes {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp.StatusCode, body)
	}

	o, err := decodeOrder(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if o.ID == "" {
		return nil, errors.New("razorpay: order id missing in response")
	}
	return o, nil
}

func decodeOrder(body []byte) (*Order, error) {
	var o Order
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			o.ID, err = d.Str()
		case "amount":
			o.Amount, err = d.Int64()
		case "currency":
			o.Currency, err = d.Str()
		case "receipt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			o.Receipt, err = d.Str()
		case "status":
			o.Status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	_ = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return apiErr
}

// Razorpay limits receipts to 40 characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
