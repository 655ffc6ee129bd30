package nostr

import (
	"errors"
	"testing"
)

func TestParseClientMessage_Event(t *testing.T) {
	frame := []byte(`["EVENT",{"id":"abc","pubkey":"def","created_at":1,"kind":1,"tags":[],"content":"hi","sig":"00"}]`)
	msg, err := ParseClientMessage(frame)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	ev, ok := msg.(*EventMessage)
	if !ok {
		t.Fatalf("got %T, want *EventMessage", msg)
	}
	if ev.Event.ID != "abc" {
		t.Errorf("id = %q", ev.Event.ID)
	}
}

func TestParseClientMessage_Req(t *testing.T) {
	frame := []byte(`["REQ","sub1",{"authors":["5081"],"kinds":[1,6]}]`)
	msg, err := ParseClientMessage(frame)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	req, ok := msg.(*ReqMessage)
	if !ok {
		t.Fatalf("got %T, want *ReqMessage", msg)
	}
	if req.SubscriptionID != "sub1" {
		t.Errorf("subscription id = %q", req.SubscriptionID)
	}
	if len(req.Filters) != 1 {
		t.Fatalf("filters = %d, want 1", len(req.Filters))
	}
}

func TestParseClientMessage_ReqMultipleFilters(t *testing.T) {
	frame := []byte(`["REQ","sub1",{"kinds":[1]},{"kinds":[2]}]`)
	msg, err := ParseClientMessage(frame)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	req := msg.(*ReqMessage)
	if len(req.Filters) != 2 {
		t.Fatalf("filters = %d, want 2", len(req.Filters))
	}
}

func TestParseClientMessage_Close(t *testing.T) {
	frame := []byte(`["CLOSE","sub1"]`)
	msg, err := ParseClientMessage(frame)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	c, ok := msg.(*CloseMessage)
	if !ok {
		t.Fatalf("got %T, want *CloseMessage", msg)
	}
	if c.SubscriptionID != "sub1" {
		t.Errorf("subscription id = %q", c.SubscriptionID)
	}
}

func TestParseClientMessage_NotJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte("not json"))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`["BOGUS","x"]`))
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("err = %v, want ErrUnknownMessageType", err)
	}
}

func TestParseClientMessage_ReqMissingFilter(t *testing.T) {
	_, err := ParseClientMessage([]byte(`["REQ","sub1"]`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestParseClientMessage_EmptyArray(t *testing.T) {
	_, err := ParseClientMessage([]byte(`[]`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestEncodeEvent(t *testing.T) {
	e := &Event{ID: "abc", Kind: 1}
	frame, err := EncodeEvent("sub1", e)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	want := `["EVENT","sub1",{"id":"abc","pubkey":"","created_at":0,"kind":1,"tags":null,"content":"","sig":""}]`
	if string(frame) != want {
		t.Errorf("frame = %s, want %s", frame, want)
	}
}

func TestEncodeNotice(t *testing.T) {
	frame, err := EncodeNotice("invalid: bad sig")
	if err != nil {
		t.Fatalf("EncodeNotice: %v", err)
	}
	if string(frame) != `["NOTICE","invalid: bad sig"]` {
		t.Errorf("frame = %s", frame)
	}
}

func TestEncodeEOSE(t *testing.T) {
	frame, err := EncodeEOSE("sub1")
	if err != nil {
		t.Fatalf("EncodeEOSE: %v", err)
	}
	if string(frame) != `["EOSE","sub1"]` {
		t.Errorf("frame = %s", frame)
	}
}
