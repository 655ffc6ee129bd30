package nostr

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func signedEvent(t *testing.T, priv *btcec.PrivateKey) Event {
	t.Helper()
	pub := priv.PubKey().SerializeCompressed()[1:] // x-only
	e := Event{
		PubKey:    hex.EncodeToString(pub),
		CreatedAt: 1684144532,
		Kind:      1,
		Tags:      []Tag{},
		Content:   "Hello modafoca",
	}
	if err := Sign(&e, priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e
}

func TestValidate_Valid(t *testing.T) {
	priv := mustKey(t)
	e := signedEvent(t, priv)

	if err := Validate(&e); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_TamperedID(t *testing.T) {
	priv := mustKey(t)
	e := signedEvent(t, priv)
	e.Content = "tampered"

	if err := Validate(&e); err != ErrInvalidID {
		t.Fatalf("Validate() = %v, want ErrInvalidID", err)
	}
}

func TestValidate_BadSignature(t *testing.T) {
	priv := mustKey(t)
	e := signedEvent(t, priv)

	// Flip the last byte of the signature.
	sigBytes, _ := hex.DecodeString(e.Sig)
	sigBytes[len(sigBytes)-1] ^= 0xFF
	e.Sig = hex.EncodeToString(sigBytes)

	if err := Validate(&e); err != ErrInvalidSignature {
		t.Fatalf("Validate() = %v, want ErrInvalidSignature", err)
	}
}

func TestValidate_WrongKey(t *testing.T) {
	priv := mustKey(t)
	other := mustKey(t)
	e := signedEvent(t, priv)

	otherPub := other.PubKey().SerializeCompressed()[1:]
	e.PubKey = hex.EncodeToString(otherPub)
	// id no longer matches canonical form for the new pubkey.
	if err := Validate(&e); err != ErrInvalidID {
		t.Fatalf("Validate() = %v, want ErrInvalidID", err)
	}
}

func TestValidate_MalformedHex(t *testing.T) {
	e := Event{ID: "not-hex", PubKey: "also-not-hex", Sig: "nope"}
	if err := Validate(&e); err != ErrInvalidID {
		t.Fatalf("Validate() = %v, want ErrInvalidID", err)
	}
}

func TestCanonicalID_Deterministic(t *testing.T) {
	e := Event{
		PubKey:    "5081991e6a0d8f39a8bb45f67d5f41c29c04e4f5eab13e80a8c3e0c3b9b3f835",
		CreatedAt: 1684144532,
		Kind:      1,
		Tags:      []Tag{{"e", "abc"}},
		Content:   "hi",
	}
	id1, err := CanonicalID(&e)
	if err != nil {
		t.Fatalf("CanonicalID: %v", err)
	}
	id2, err := CanonicalID(&e)
	if err != nil {
		t.Fatalf("CanonicalID: %v", err)
	}
	if id1 != id2 {
		t.Fatal("CanonicalID is not deterministic for the same event")
	}
}

func TestCanonicalID_EmptyTagsVsNilTags(t *testing.T) {
	e1 := Event{PubKey: "ab", CreatedAt: 1, Kind: 1, Tags: nil, Content: "x"}
	e2 := Event{PubKey: "ab", CreatedAt: 1, Kind: 1, Tags: []Tag{}, Content: "x"}

	id1, err := CanonicalID(&e1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := CanonicalID(&e2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("nil tags and empty tags should serialize identically")
	}
}
