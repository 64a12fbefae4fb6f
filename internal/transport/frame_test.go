package transport

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrame(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		payload int
		wantNil bool
	}{
		{"small", "t1", 10, false},
		{"max payload", "t1", MaxPayload, false},
		{"payload too large", "t1", MaxPayload + 1, true},
		{"empty id", "", 10, true},
		{"max id", strings.Repeat("a", MaxIDLen), 1, false},
		{"id too long", strings.Repeat("a", MaxIDLen+1), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := Frame(tt.id, make([]byte, tt.payload))
			if (pkt == nil) != tt.wantNil {
				t.Fatalf("Frame() nil = %v, want %v", pkt == nil, tt.wantNil)
			}
			if pkt != nil && len(pkt) != FramedSize(len(tt.id), tt.payload) {
				t.Errorf("len = %d, want %d", len(pkt), FramedSize(len(tt.id), tt.payload))
			}
		})
	}
}

func TestFrame_Layout(t *testing.T) {
	pkt := Frame("ab", []byte{0xff})
	want := []byte{2, 'a', 'b', 1, 0, 0, 0, 0xff}
	if !bytes.Equal(pkt, want) {
		t.Errorf("Frame() = %v, want %v", pkt, want)
	}
}

func TestSplit(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i)
	}
	parts := Split(data, MaxPayload)
	if len(parts) != 4 {
		t.Fatalf("len(parts) = %d, want 4", len(parts))
	}
	for i, p := range parts[:3] {
		if len(p) != MaxPayload {
			t.Errorf("part %d len = %d, want %d", i, len(p), MaxPayload)
		}
	}
	if len(parts[3]) != 200*1024-3*MaxPayload {
		t.Errorf("last part len = %d", len(parts[3]))
	}
	if !bytes.Equal(bytes.Join(parts, nil), data) {
		t.Error("split parts do not reassemble to the input")
	}
	if Split(nil, 10) != nil {
		t.Error("Split(nil) should be nil")
	}
}

func TestDecoder_InterleavedTerminals(t *testing.T) {
	var stream bytes.Buffer
	want := map[string]*bytes.Buffer{"a": {}, "b": {}}
	for i := 0; i < 30; i++ {
		id := "a"
		if i%3 == 0 {
			id = "b"
		}
		payload := bytes.Repeat([]byte{byte(i)}, i*7+1)
		want[id].Write(payload)
		stream.Write(Frame(id, payload))
	}

	got := map[string]*bytes.Buffer{"a": {}, "b": {}}
	var dec Decoder
	raw := stream.Bytes()
	// Feed in awkward slices so packets straddle reads.
	for len(raw) > 0 {
		n := min(13, len(raw))
		for _, p := range dec.Feed(raw[:n]) {
			got[p.TerminalID].Write(p.Payload)
		}
		raw = raw[n:]
	}

	if dec.Buffered() != 0 {
		t.Errorf("Buffered() = %d after a complete stream", dec.Buffered())
	}
	for id := range want {
		if !bytes.Equal(got[id].Bytes(), want[id].Bytes()) {
			t.Errorf("terminal %s stream differs", id)
		}
	}
}
