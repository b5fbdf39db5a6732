package gelf_test

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/assert/v2"

	"github.com/simatei/kpi/internal/gelf"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc
}

func receive(t *testing.T, pc net.PacketConn) map[string]any {
	t.Helper()
	buf := make([]byte, 8192)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		t.Fatalf("decode %s: %v", buf[:n], err)
	}
	return msg
}

func TestWriterStructuredLine(t *testing.T) {
	pc := listen(t)
	w, err := gelf.New(pc.LocalAddr().String(), "kpi")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	logger := log.NewWithOptions(w, log.Options{Formatter: log.JSONFormatter, Prefix: "http"})
	logger.Warn("slow request", "id", "01HX", "path", "/x")

	msg := receive(t, pc)
	assert.Equal(t, msg["short_message"], "slow request")
	assert.Equal(t, msg["level"], float64(4))
	assert.Equal(t, msg["_service"], "kpi")
	assert.Equal(t, msg["_request_id"], "01HX")
	assert.Equal(t, msg["_path"], "/x")
}

func TestWriterPlainLine(t *testing.T) {
	pc := listen(t)
	w, err := gelf.New(pc.LocalAddr().String(), "kpi")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	w.Write([]byte("plain text\n"))
	msg := receive(t, pc)
	assert.Equal(t, msg["short_message"], "plain text")
	assert.Equal(t, msg["level"], float64(6))
}
