// Package x402 implements the x402 payment-required protocol types and
// client. This is the foundation for the GhostSpeak SDK.
package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Decimals is the number of decimal places in amount strings.
const Decimals = 6

// PaymentRequirement is returned by servers in 402 responses
type PaymentRequirement struct {
	Price       string `json:"price"`    // decimal string, e.g. "1.500000"
	Currency    string `json:"currency"` // e.g. "GHOST"
	Network     string `json:"network"`  // e.g. "solana"
	Recipient   string `json:"recipient"`
	Description string `json:"description,omitempty"`
	ValidFor    int64  `json:"validFor,omitempty"` // seconds
	Nonce       string `json:"nonce,omitempty"`
}

// PaymentProof is sent to servers to prove payment
type PaymentProof struct {
	TxHash    string `json:"txHash"`
	From      string `json:"from"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Error represents an x402 error response
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrInvalidAmount is returned when an amount string cannot be parsed.
var ErrInvalidAmount = errors.New("x402: invalid amount")

// ParseAmount converts a decimal amount string to base units (6 decimals).
// "1.5" -> 1_500_000. Rejects negative values and more than 6 decimal places.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, ErrInvalidAmount
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	var units uint64
	for _, digits := range []string{whole, frac} {
		for _, ch := range digits {
			if ch < '0' || ch > '9' {
				return 0, ErrInvalidAmount
			}
			d := uint64(ch - '0')
			if units > (1<<64-1-d)/10 {
				return 0, ErrInvalidAmount
			}
			units = units*10 + d
		}
	}
	return units, nil
}

// FormatAmount converts base units to a decimal string with 6 places.
func FormatAmount(units uint64) string {
	return fmt.Sprintf("%d.%06d", units/1_000_000, units%1_000_000)
}

// Is402Response checks if an HTTP response is a 402 Payment Required
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequirement extracts payment requirements from a 402 response
func ParsePaymentRequirement(resp *http.Response) (*PaymentRequirement, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var req PaymentRequirement
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirement: %w", err)
	}

	return &req, nil
}

// CreatePaymentProof creates a proof object for a completed payment
func CreatePaymentProof(txHash, fromAddress, nonce string) *PaymentProof {
	return &PaymentProof{
		TxHash:    txHash,
		From:      fromAddress,
		Nonce:     nonce,
		Timestamp: time.Now().Unix(),
	}
}

// ToHeader serializes the payment proof for HTTP header
func (p *PaymentProof) ToHeader() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}
	return string(data), nil
}

// ParseProofHeader deserializes a payment proof from the X-Payment-Proof
// header value.
func ParseProofHeader(header string) (*PaymentProof, error) {
	var proof PaymentProof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		return nil, fmt.Errorf("failed to parse payment proof: %w", err)
	}
	if proof.TxHash == "" || proof.From == "" {
		return nil, errors.New("x402: proof missing txHash or from")
	}
	return &proof, nil
}

// AddProofToRequest adds the payment proof header to an HTTP request
func AddProofToRequest(req *http.Request, proof *PaymentProof) error {
	header, err := proof.ToHeader()
	if err != nil {
		return err
	}
	req.Header.Set("X-Payment-Proof", header)
	return nil
}
