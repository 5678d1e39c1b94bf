package transport

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Parallel()

	msg, err := DecodeClientMessage([]byte(`{"type":"start_session","language":"de-DE","systemInstruction":"be helpful","userId":"u-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeStartSession || msg.Language != "de-DE" || msg.UserID != "u-1" {
		t.Errorf("decoded = %+v", msg)
	}

	// Audio arrives base64-encoded in JSON.
	payload := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	msg, err = DecodeClientMessage([]byte(`{"type":"audio_chunk","audio":"` + payload + `"}`))
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if len(msg.Audio) != 4 {
		t.Errorf("audio = %v", msg.Audio)
	}
}

func TestDecodeClientMessage_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"no type", `{"language":"en-US"}`},
		{"unknown type", `{"type":"reboot"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeClientMessage([]byte(tc.data)); err == nil {
				t.Errorf("%q accepted", tc.data)
			}
		})
	}
}

func TestEncodeServerMessage_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := EncodeServerMessage(ServerMessage{Type: TypePong})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 1 || decoded["type"] != TypePong {
		t.Errorf("encoded = %s", data)
	}
}
