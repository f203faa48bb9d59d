package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-realtime/internal/models"
)

// Client wraps stripe-go for the fare hold/capture/release flow tied to a
// ride's lifecycle: hold on accept, capture on completion, release on
// cancellation. Fare amounts come from the ride request as-is.
type Client struct {
	Currency string
}

// NewClient configures the stripe SDK with the given API key.
func NewClient(apiKey, currency string) *Client {
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &Client{Currency: currency}
}

// HoldFare creates a manual-capture PaymentIntent for the ride's price and
// returns its id.
func (c *Client) HoldFare(ctx context.Context, r models.Ride) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(r.Price * 100)),
		Currency: stripe.String(c.Currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// CaptureFare finalizes a previously-held PaymentIntent.
func (c *Client) CaptureFare(ctx context.Context, ref string) error {
	_, err := paymentintent.Capture(ref, nil)
	return err
}

// ReleaseFare cancels the hold on a PaymentIntent.
func (c *Client) ReleaseFare(ctx context.Context, ref string) error {
	_, err := paymentintent.Cancel(ref, nil)
	return err
}
