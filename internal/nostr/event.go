// Package nostr implements the data model, canonical serialization,
// and signature verification for the relay's events and filters, per
// NIP-01.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Tag is one ordered sequence of strings within an event's tag list.
type Tag []string

// Name returns the tag's first element, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element (index 1), or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is the atomic, content-addressed unit of the protocol.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Errors returned by Validate. These never terminate a session — the
// caller converts them into a NOTICE.
var (
	ErrInvalidID        = errors.New("invalid: id does not match canonical hash")
	ErrInvalidSignature = errors.New("invalid: signature verification failed")
)

// CanonicalID computes the 32-byte SHA-256 digest of the event's
// canonical serialization: the compact JSON array
// [0, pubkey, created_at, kind, tags, content] with no insignificant
// whitespace.
func CanonicalID(e *Event) ([32]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}

	payload := []any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}

	// The encoder inserts no insignificant whitespace and escapes strings
	// per RFC 8259. HTML escaping is turned off so '<', '>' and '&' stay
	// literal, as NIP-01 signers write them; U+2028 and U+2029 are still
	// written as JSON escape sequences.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return [32]byte{}, fmt.Errorf("marshal canonical form: %w", err)
	}

	return sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Validate checks that the event's id matches its canonical hash and
// that its signature verifies under its declared pubkey. It is pure
// and performs no I/O.
func Validate(e *Event) error {
	wantID, err := CanonicalID(e)
	if err != nil {
		return err
	}

	gotID, err := hex.DecodeString(e.ID)
	if err != nil || len(gotID) != 32 {
		return ErrInvalidID
	}
	if !bytes.Equal(wantID[:], gotID) {
		return ErrInvalidID
	}

	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return ErrInvalidSignature
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return ErrInvalidSignature
	}

	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	if !sig.Verify(gotID, pubKey) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the canonical id and a schnorr signature for e using
// privKey, then populates e.ID and e.Sig. It exists for tests and
// tooling that need to fabricate valid events; the relay itself never
// signs events.
func Sign(e *Event, privKey *btcec.PrivateKey) error {
	id, err := CanonicalID(e)
	if err != nil {
		return err
	}
	e.ID = hex.EncodeToString(id[:])

	sig, err := schnorr.Sign(privKey, id[:])
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
