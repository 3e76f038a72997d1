package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Message
	}{
		{
			name:    "led command",
			payload: []byte{0x00, 0x45, 0x02, 0x01, 0xFF, 0x00, 0x00},
			want:    Message{CANID: 0x045, Data: []byte{0x02, 0x01, 0xFF, 0x00, 0x00}},
		},
		{
			name:    "num panels request",
			payload: []byte{0xFF, 0x01},
			want:    Message{Host: true, Command: HostCmdNumPanels, Data: []byte{}},
		},
		{
			name:    "panel info response",
			payload: []byte{0xFF, 0x02, 0x03, 0x00, 0x00, 0x01, 0x10},
			want:    Message{Host: true, Command: HostCmdPanelInfo, Data: []byte{0x03, 0x00, 0x00, 0x01, 0x10}},
		},
	}

	for _, tt := range tests {
		got, err := ParseMessage(tt.payload)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
			continue
		}
		if got.Host != tt.want.Host || got.Command != tt.want.Command || got.CANID != tt.want.CANID {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
		if !bytes.Equal(got.Data, tt.want.Data) {
			t.Errorf("%s: data = % x, want % x", tt.name, got.Data, tt.want.Data)
		}
		if !bytes.Equal(got.Bytes(), tt.payload) {
			t.Errorf("%s: Bytes() = % x, want % x", tt.name, got.Bytes(), tt.payload)
		}
	}
}

func TestParseMessageShort(t *testing.T) {
	for _, p := range [][]byte{nil, {0x01}} {
		if _, err := ParseMessage(p); !errors.Is(err, ErrShortMessage) {
			t.Errorf("ParseMessage(% x): expected ErrShortMessage, got %v", p, err)
		}
	}
}

func TestParseMessageTooMuchCANData(t *testing.T) {
	if _, err := ParseMessage(make([]byte, 11)); err == nil {
		t.Error("Expected error for 9 CAN data bytes")
	}
}

func TestParseMessageDoesNotAlias(t *testing.T) {
	payload := []byte{0x00, 0x41, 0x07}
	m, _ := ParseMessage(payload)
	payload[2] = 0x99
	if m.Data[0] != 0x07 {
		t.Error("Message data aliases the payload")
	}
}

func TestPanelInfoResponse(t *testing.T) {
	m := PanelInfoResponse(7, 0x01020304)
	if !bytes.Equal(m.Bytes(), []byte{0xFF, 0x02, 0x07, 0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("PanelInfoResponse bytes = % x", m.Bytes())
	}

	id, typ, err := ParsePanelInfo(m)
	if err != nil {
		t.Fatalf("ParsePanelInfo failed: %v", err)
	}
	if id != 7 || typ != 0x01020304 {
		t.Errorf("ParsePanelInfo = (%d, 0x%08x)", id, typ)
	}

	if _, _, err := ParsePanelInfo(NumPanelsResponse(1)); !errors.Is(err, ErrNotPanelInfo) {
		t.Errorf("Expected ErrNotPanelInfo, got %v", err)
	}
}
