package downstream

import "testing"

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	payload := ClientSetAlert{Exchange: "NSE", Token: 738561, Condition: "ABOVE", Price: "2500.00"}
	frame, err := EncodeEnvelope(MsgSetAlert, payload)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != MsgSetAlert {
		t.Fatalf("type = %s, want %s", env.Type, MsgSetAlert)
	}

	var got ClientSetAlert
	if err := env.Decode(&got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got != payload {
		t.Fatalf("got %+v, want %+v", got, payload)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}
