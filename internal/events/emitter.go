// Package events emits lifecycle events from the domain services to the
// realtime hub. All methods are fire-and-forget: a nil emitter or a full
// broadcast buffer never blocks or fails the calling operation.
package events

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghostspeak/ghostspeak/internal/idgen"
	"github.com/ghostspeak/ghostspeak/internal/realtime"
)

var eventEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ghostspeak",
	Subsystem: "event",
	Name:      "emit_total",
	Help:      "Total lifecycle event emissions by event type.",
}, []string{"event_type"})

func init() {
	prometheus.MustRegister(eventEmitTotal)
}

// Emitter broadcasts lifecycle events to the realtime hub.
type Emitter struct {
	hub    *realtime.Hub
	logger *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(hub *realtime.Hub, logger *slog.Logger) *Emitter {
	return &Emitter{hub: hub, logger: logger}
}

func (e *Emitter) emit(eventType realtime.EventType, data map[string]interface{}) {
	if e == nil || e.hub == nil {
		return
	}
	eventEmitTotal.WithLabelValues(string(eventType)).Inc()
	e.hub.Broadcast(&realtime.Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// --- Escrow events ---

// EmitEscrowCreated emits an escrow.created event.
func (e *Emitter) EmitEscrowCreated(escrowID, payer, recipient string, amount uint64) {
	e.emit(realtime.EventEscrowCreated, map[string]interface{}{
		"escrowId":  escrowID,
		"payer":     payer,
		"recipient": recipient,
		"amount":    amount,
	})
}

// EmitEscrowFunded emits an escrow.funded event.
func (e *Emitter) EmitEscrowFunded(escrowID, payer string, amount uint64) {
	e.emit(realtime.EventEscrowFunded, map[string]interface{}{
		"escrowId": escrowID,
		"payer":    payer,
		"amount":   amount,
	})
}

// EmitWorkSubmitted emits an escrow.work_submitted event.
func (e *Emitter) EmitWorkSubmitted(escrowID, recipient string) {
	e.emit(realtime.EventEscrowWorkSubmitted, map[string]interface{}{
		"escrowId":  escrowID,
		"recipient": recipient,
	})
}

// EmitEscrowCompleted emits an escrow.completed event.
func (e *Emitter) EmitEscrowCompleted(escrowID, payer, recipient string, released uint64) {
	e.emit(realtime.EventEscrowCompleted, map[string]interface{}{
		"escrowId":  escrowID,
		"payer":     payer,
		"recipient": recipient,
		"amount":    released,
	})
}

// EmitEscrowCancelled emits an escrow.cancelled event.
func (e *Emitter) EmitEscrowCancelled(escrowID, payer string, refunded uint64) {
	e.emit(realtime.EventEscrowCancelled, map[string]interface{}{
		"escrowId": escrowID,
		"payer":    payer,
		"amount":   refunded,
	})
}

// EmitEscrowDisputed emits an escrow.disputed event.
func (e *Emitter) EmitEscrowDisputed(escrowID, disputeID, initiator, reason string) {
	e.emit(realtime.EventEscrowDisputed, map[string]interface{}{
		"escrowId":  escrowID,
		"disputeId": disputeID,
		"initiator": initiator,
		"reason":    reason,
	})
}

// EmitEscrowExpired emits an escrow.expired event.
func (e *Emitter) EmitEscrowExpired(escrowID, payer string, refunded uint64) {
	e.emit(realtime.EventEscrowExpired, map[string]interface{}{
		"escrowId": escrowID,
		"payer":    payer,
		"amount":   refunded,
	})
}

// --- Dispute events ---

// EmitDisputeFiled emits a dispute.filed event.
func (e *Emitter) EmitDisputeFiled(disputeID, escrowID, initiator string) {
	e.emit(realtime.EventDisputeFiled, map[string]interface{}{
		"disputeId": disputeID,
		"escrowId":  escrowID,
		"initiator": initiator,
	})
}

// EmitDisputeEvidence emits a dispute.evidence event.
func (e *Emitter) EmitDisputeEvidence(disputeID, submitter string) {
	e.emit(realtime.EventDisputeEvidence, map[string]interface{}{
		"disputeId": disputeID,
		"initiator": submitter,
	})
}

// EmitDisputeResolved emits a dispute.resolved event.
func (e *Emitter) EmitDisputeResolved(disputeID, escrowID, decision string, refundPct uint8) {
	e.emit(realtime.EventDisputeResolved, map[string]interface{}{
		"disputeId": disputeID,
		"escrowId":  escrowID,
		"decision":  decision,
		"refundPct": refundPct,
	})
}

// --- Auction events ---

// EmitBidCommitted emits a bid.committed event. The amount stays hidden
// until reveal, only the commitment hash is public.
func (e *Emitter) EmitBidCommitted(bidID, auctionID, bidder string) {
	e.emit(realtime.EventBidCommitted, map[string]interface{}{
		"bidId":     bidID,
		"auctionId": auctionID,
		"initiator": bidder,
	})
}

// EmitBidRevealed emits a bid.revealed event.
func (e *Emitter) EmitBidRevealed(bidID, auctionID, bidder string, amount uint64) {
	e.emit(realtime.EventBidRevealed, map[string]interface{}{
		"bidId":     bidID,
		"auctionId": auctionID,
		"initiator": bidder,
		"amount":    amount,
	})
}

// --- Payment and registration events ---

// EmitPaymentRecorded emits a payment.recorded event.
func (e *Emitter) EmitPaymentRecorded(payer, recipient string, amount uint64, reference string) {
	e.emit(realtime.EventPaymentRecorded, map[string]interface{}{
		"payer":     payer,
		"recipient": recipient,
		"amount":    amount,
		"reference": reference,
	})
}

// EmitAgentRegistered emits an agent.registered event.
func (e *Emitter) EmitAgentRegistered(agentAddr, name string) {
	e.emit(realtime.EventAgentRegistered, map[string]interface{}{
		"initiator": agentAddr,
		"name":      name,
	})
}
