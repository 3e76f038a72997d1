package serial

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestSocketPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	var port Port
	sp, err := DialSocket(path, time.Second)
	if err != nil {
		t.Fatalf("DialSocket failed: %v", err)
	}
	port = sp
	defer port.Close()

	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	defer server.Close()

	if _, err := port.Write([]byte{0x02, 0xFF, 0x01, 0x00}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got := make([]byte, 4)
	if _, err := io.ReadFull(server, got); err != nil || !bytes.Equal(got, []byte{0x02, 0xFF, 0x01, 0x00}) {
		t.Errorf("server read % x, %v", got, err)
	}

	server.Write([]byte{0xAA})
	buf := make([]byte, 1)
	if n, err := port.Read(buf); n != 1 || buf[0] != 0xAA || err != nil {
		t.Errorf("Read = %d % x %v", n, buf, err)
	}

	if err := port.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if sp.Path() != path {
		t.Errorf("Path() = %s", sp.Path())
	}
}

func TestDialSocketMissing(t *testing.T) {
	if _, err := DialSocket(filepath.Join(t.TempDir(), "none.sock"), 100*time.Millisecond); err == nil {
		t.Error("expected error dialing a missing socket")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyS0")
	if cfg.Device != "/dev/ttyS0" || cfg.Baud != DefaultBaud || cfg.ReadTimeout == 0 {
		t.Errorf("DefaultConfig = %+v", cfg)
	}
	if _, err := Open(nil); err == nil {
		t.Error("Open(nil) should fail")
	}
}
