package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ghostspeak/ghostspeak/pkg/x402"
)

const (
	payerAddr     = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	recipientAddr = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

type recordedPayment struct {
	agent        string
	counterparty string
	amount       uint64
	success      bool
}

type mockRecorder struct {
	mu       sync.Mutex
	payments []recordedPayment
}

func (m *mockRecorder) RecordPayment(ctx context.Context, agentAddr, counterparty string, amount uint64, success bool, responseTime time.Duration, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, recordedPayment{agentAddr, counterparty, amount, success})
	return nil
}

func validProof() *x402.PaymentProof {
	return &x402.PaymentProof{
		TxHash:    "tx_abc123",
		From:      payerAddr,
		Timestamp: time.Now().Unix(),
	}
}

func TestRecordX402(t *testing.T) {
	recorder := &mockRecorder{}
	svc := NewService(recorder, nil, slog.Default())

	rec, err := svc.RecordX402(context.Background(), payerAddr, recipientAddr, 250_000, validProof())
	if err != nil {
		t.Fatalf("RecordX402: %v", err)
	}
	if rec.Payer != payerAddr || rec.Recipient != recipientAddr || rec.Amount != 250_000 {
		t.Errorf("record = %+v", rec)
	}

	if len(recorder.payments) != 1 {
		t.Fatalf("recorded = %d, want 1", len(recorder.payments))
	}
	p := recorder.payments[0]
	// The recipient earns the reputation credit; the payer is the counterparty.
	if p.agent != recipientAddr || p.counterparty != payerAddr || !p.success {
		t.Errorf("payment = %+v", p)
	}
}

func TestRecordX402Validation(t *testing.T) {
	svc := NewService(&mockRecorder{}, nil, slog.Default())
	ctx := context.Background()

	if _, err := svc.RecordX402(ctx, payerAddr, recipientAddr, 0, validProof()); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero amount: error = %v, want ErrZeroAmount", err)
	}
	if _, err := svc.RecordX402(ctx, payerAddr, recipientAddr, 100, nil); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("nil proof: error = %v, want ErrInvalidProof", err)
	}
	if _, err := svc.RecordX402(ctx, payerAddr, recipientAddr, 100, &x402.PaymentProof{From: payerAddr}); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("missing tx: error = %v, want ErrInvalidProof", err)
	}

	stolen := validProof()
	stolen.From = recipientAddr
	if _, err := svc.RecordX402(ctx, payerAddr, recipientAddr, 100, stolen); !errors.Is(err, ErrProofMismatch) {
		t.Errorf("mismatched proof: error = %v, want ErrProofMismatch", err)
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *mockRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := &mockRecorder{}
	h := NewHandler(NewService(recorder, nil, slog.Default()))

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if addr := c.GetHeader("X-Agent-Address"); addr != "" {
			c.Set("authAgentAddr", addr)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(v1)
	return r, recorder
}

func postX402(r *gin.Engine, agent string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/x402", &buf)
	req.Header.Set("Content-Type", "application/json")
	if agent != "" {
		req.Header.Set("X-Agent-Address", agent)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecordX402Endpoint(t *testing.T) {
	r, recorder := newTestRouter(t)

	w := postX402(r, payerAddr, gin.H{
		"recipient": recipientAddr,
		"amount":    250_000,
		"proof":     validProof(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(recorder.payments) != 1 {
		t.Errorf("recorded = %d, want 1", len(recorder.payments))
	}
}

func TestRecordX402EndpointRejections(t *testing.T) {
	r, _ := newTestRouter(t)

	// No auth.
	if w := postX402(r, "", gin.H{"recipient": recipientAddr, "amount": 100, "proof": validProof()}); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}
	// Bad recipient.
	if w := postX402(r, payerAddr, gin.H{"recipient": "0xdeadbeef", "amount": 100, "proof": validProof()}); w.Code != http.StatusBadRequest {
		t.Errorf("bad recipient status = %d, want 400", w.Code)
	}
	// Someone else's proof.
	stolen := validProof()
	stolen.From = recipientAddr
	if w := postX402(r, payerAddr, gin.H{"recipient": recipientAddr, "amount": 100, "proof": stolen}); w.Code != http.StatusForbidden {
		t.Errorf("stolen proof status = %d, want 403", w.Code)
	}
}
