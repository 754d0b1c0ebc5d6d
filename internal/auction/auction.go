// Package auction implements commit-reveal bid protection.
//
// Sealed bidding in two phases: a bidder first commits a hash of
// (amount, nonce), then reveals both inside a fixed time window. The
// commitment hides the amount while it can still be front-run; the
// window forces reveals to land after ordering is settled but before
// the auction goes stale.
package auction

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrBidNotFound      = errors.New("bid not found")
	ErrAlreadyCommitted = errors.New("bidder already has a committed bid on this auction")
	ErrAlreadyRevealed  = errors.New("bid already revealed")
	ErrInvalidReveal    = errors.New("revealed amount and nonce do not match commitment")
	ErrRevealTooEarly   = errors.New("reveal window has not opened yet")
	ErrRevealTooLate    = errors.New("reveal window has closed")
	ErrUnauthorized     = errors.New("not the bid owner")
	ErrInvalidCommit    = errors.New("commitment must be a 64-char hex SHA-256 digest")
)

// Reveal window bounds, measured from the commit timestamp.
const (
	DefaultRevealMinDelay = 60 * time.Second
	DefaultRevealMaxDelay = 300 * time.Second
)

// BidStatus represents the phase of a sealed bid.
type BidStatus string

const (
	BidStatusCommitted BidStatus = "committed"
	BidStatusRevealed  BidStatus = "revealed"
)

// Bid is a sealed auction bid. Amount and Nonce stay zero until reveal.
type Bid struct {
	ID         string     `json:"id"`
	AuctionID  string     `json:"auctionId"`
	Bidder     string     `json:"bidder"`
	Commitment string     `json:"commitment"` // hex SHA-256 digest
	Amount     uint64     `json:"amount"`     // base units, 0 while committed
	Nonce      string     `json:"nonce,omitempty"`
	Status     BidStatus  `json:"status"`
	CommittedAt time.Time `json:"committedAt"`
	RevealedAt *time.Time `json:"revealedAt,omitempty"`
}

// Commitment computes the bid commitment digest:
// SHA-256 over the little-endian uint64 amount followed by the nonce bytes.
func Commitment(amount uint64, nonce []byte) string {
	buf := make([]byte, 8, 8+len(nonce))
	binary.LittleEndian.PutUint64(buf, amount)
	buf = append(buf, nonce...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// verifyCommitment checks a revealed (amount, nonce) pair against the stored
// digest in constant time.
func verifyCommitment(commitment string, amount uint64, nonce []byte) bool {
	got := Commitment(amount, nonce)
	return subtle.ConstantTimeCompare([]byte(got), []byte(commitment)) == 1
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
