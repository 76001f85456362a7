package scpi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		resource string
		want     string
		wantErr  bool
	}{
		{"TCPIP0::192.168.1.16::inst0::INSTR", "192.168.1.16:5025", false},
		{"TCPIP::10.0.0.2::5026::SOCKET", "10.0.0.2:5026", false},
		{"pna.lab:5025", "pna.lab:5025", false},
		{"pna.lab", "pna.lab:5025", false},
		{"GPIB0::16::INSTR", "", true},
		{"TCPIP0::", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			got, err := ParseAddress(tt.resource)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %q, want %q", tt.resource, got, tt.want)
			}
		})
	}
}

// echoInstrument answers every query line (ending in '?') with "reply:<cmd>"
// and records all received lines.
func echoInstrument(t *testing.T) (addr string, received <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	lines := make(chan string, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			line = strings.TrimSpace(line)
			lines <- line
			if strings.Contains(line, "?") {
				_, _ = conn.Write([]byte("reply:" + line + "\n"))
			}
		}
	}()

	return ln.Addr().String(), lines
}

func TestConnWriteAndQuery(t *testing.T) {
	addr, received := echoInstrument(t)

	c, err := Dial(context.Background(), addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err = c.Write("SYSTEM:FPRESET"); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := c.Query("*IDN?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply != "reply:*IDN?" {
		t.Errorf("reply = %q", reply)
	}

	for _, want := range []string{"SYSTEM:FPRESET", "*IDN?"} {
		if got := <-received; got != want {
			t.Errorf("instrument received %q, want %q", got, want)
		}
	}
}

func TestConnQueryTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		_, _ = r.ReadString('\n') // swallow the query and never reply
	}()

	c := NewConn(client, WithTimeout(50*time.Millisecond))
	defer c.Close()

	_, err := c.Query("*OPC?")
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestConnClosed(t *testing.T) {
	_, client := net.Pipe()
	c := NewConn(client)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := c.Write("*RST"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
