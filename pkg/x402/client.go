package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payer executes payments on behalf of the client. Implementations settle
// against the GhostSpeak ledger or an external network.
type Payer interface {
	// Address returns the payer's base58 agent address.
	Address() string
	// Pay transfers amount base units to the recipient and returns a
	// transaction reference.
	Pay(ctx context.Context, recipient string, amount uint64) (txHash string, err error)
}

// Client wraps http.Client with automatic 402 payment handling
type Client struct {
	httpClient *http.Client
	payer      Payer

	// Configuration
	MaxRetries int    // Max payment retries (default: 1)
	AutoPay    bool   // Automatically pay 402s (default: true)
	MaxPayment string // Max payment amount, decimal string (default: unlimited)

	// Hooks
	OnPayment func(req *PaymentRequirement, proof *PaymentProof) // Called after each payment
}

// NewClient creates a new x402-enabled HTTP client
func NewClient(p Payer) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		payer:      p,
		MaxRetries: 1,
		AutoPay:    true,
	}
}

// Do performs an HTTP request with automatic 402 payment handling
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Clone the request body if present (we might need to retry)
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// Not a 402 - return response as-is
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}
		if !c.AutoPay {
			return resp, nil
		}

		payReq, err := ParsePaymentRequirement(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment requirement: %w", err)
		}

		if c.MaxPayment != "" {
			if err := c.checkPaymentLimit(payReq.Price); err != nil {
				return nil, err
			}
		}

		proof, err := c.makePayment(ctx, payReq)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		if c.OnPayment != nil {
			c.OnPayment(payReq, proof)
		}

		// Add proof to request and retry
		if err := AddProofToRequest(req, proof); err != nil {
			return nil, fmt.Errorf("failed to add proof: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// Get performs a GET request with automatic 402 handling
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// makePayment settles the payment requirement through the payer.
func (c *Client) makePayment(ctx context.Context, req *PaymentRequirement) (*PaymentProof, error) {
	amount, err := ParseAmount(req.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}

	txHash, err := c.payer.Pay(ctx, req.Recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("transfer failed: %w", err)
	}

	return CreatePaymentProof(txHash, c.payer.Address(), req.Nonce), nil
}

// checkPaymentLimit verifies the payment doesn't exceed max
func (c *Client) checkPaymentLimit(price string) error {
	maxAmount, err := ParseAmount(c.MaxPayment)
	if err != nil {
		return fmt.Errorf("invalid max payment: %w", err)
	}

	reqAmount, err := ParseAmount(price)
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}

	if reqAmount > maxAmount {
		return fmt.Errorf("payment %s exceeds max %s", price, c.MaxPayment)
	}
	return nil
}
