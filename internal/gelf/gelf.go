// Package gelf forwards structured log lines to a Graylog GELF UDP input.
package gelf

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Writer sends GELF messages over UDP and implements io.Writer so it can be
// teed with stderr through io.MultiWriter.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

// Close closes the UDP socket.
func (w *Writer) Close() error { return w.conn.Close() }

// severity maps log levels to syslog severities.
var severity = map[string]int{
	"debug": 7,
	"info":  6,
	"warn":  4,
	"error": 3,
	"fatal": 2,
}

// Write implements io.Writer. Each call carries one JSON log line, as
// written by the JSON formatter; lines that are not JSON are sent as is at
// informational level.
func (w *Writer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")

	msg := map[string]any{
		"version":       "1.1",
		"host":          w.hostname,
		"short_message": line,
		"timestamp":     float64(time.Now().UnixNano()) / 1e9,
		"level":         6,
		"_service":      w.service,
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err == nil {
		for k, v := range fields {
			switch k {
			case "msg":
				msg["short_message"] = fmt.Sprint(v)
			case "level":
				if lvl, ok := severity[fmt.Sprint(v)]; ok {
					msg["level"] = lvl
				}
			case "time":
				if t, err := time.Parse(time.RFC3339, fmt.Sprint(v)); err == nil {
					msg["timestamp"] = float64(t.UnixNano()) / 1e9
				}
			case "id":
				// "_id" is reserved by GELF.
				msg["_request_id"] = v
			default:
				msg["_"+k] = v
			}
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return len(p), nil // don't fail the log call
	}

	// Fire-and-forget
	w.conn.Write(payload)
	return len(p), nil
}
