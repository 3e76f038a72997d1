package monitor

import (
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"panelbus/core"
	"panelbus/host/bridge"
	"panelbus/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) Notification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return n
}

func TestHubSnapshotAndBroadcast(t *testing.T) {
	panels := []bridge.PanelInfo{{ID: 1, Type: 3}, {ID: 2, Type: 4}}
	h := NewHub(func() []bridge.PanelInfo { return panels }, quietLogger())
	conn := dial(t, h)

	snap := readNotification(t, conn)
	if snap.Type != TypeSnapshot || len(snap.Panels) != 2 || snap.Panels[1] != panels[1] {
		t.Errorf("snapshot = %+v", snap)
	}

	h.Broadcast(Notification{Type: TypeEvent, ShortID: 2, Opcode: "SWITCH", Payload: []byte{1}})
	ev := readNotification(t, conn)
	if ev.Type != TypeEvent || ev.ShortID != 2 || ev.Opcode != "SWITCH" || len(ev.Payload) != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestHubClientLeaves(t *testing.T) {
	h := NewHub(nil, quietLogger())
	conn := dial(t, h)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed")
		}
		time.Sleep(time.Millisecond)
	}
	h.Broadcast(Notification{Type: TypeReset})
}

func TestHubAttach(t *testing.T) {
	hostEnd, ctrlEnd := net.Pipe()
	b := bridge.New(hostEnd, quietLogger())
	t.Cleanup(func() {
		b.Close()
		ctrlEnd.Close()
	})

	h := NewHub(b.Panels, quietLogger())
	h.Attach(b)
	conn := dial(t, h)
	if n := readNotification(t, conn); n.Type != TypeSnapshot || len(n.Panels) != 0 {
		t.Errorf("snapshot = %+v", n)
	}

	write := func(m protocol.Message) {
		frame, err := protocol.Encode(m.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ctrlEnd.Write(frame); err != nil {
			t.Fatal(err)
		}
	}

	write(protocol.PanelInfoResponse(5, 0x22))
	if n := readNotification(t, conn); n.Type != TypePanel || len(n.Panels) != 1 || n.Panels[0].ID != 5 {
		t.Errorf("panel notification = %+v", n)
	}

	write(protocol.CANMessage(uint16(core.RuntimeID(core.OpADC, 5)), []byte{0x12, 0x34}))
	if n := readNotification(t, conn); n.Type != TypeEvent || n.ShortID != 5 || n.Opcode != core.OpADC.String() {
		t.Errorf("event notification = %+v", n)
	}

	write(protocol.HostCommand(protocol.HostCmdReset))
	if n := readNotification(t, conn); n.Type != TypeReset {
		t.Errorf("reset notification = %+v", n)
	}
}
