package enclave

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/libp2p/go-msgio"
)

func startTestTransport(t *testing.T) (*Transport, net.Addr) {
	t.Helper()

	r := NewRouter(nil)
	r.Handle("health", "ping", func(context.Context, *Request) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	tr := NewTransport(r, ln, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start transport: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tr.Stop(ctx); err != nil {
			t.Errorf("stop transport: %v", err)
		}
	})
	return tr, ln.Addr()
}

func TestTransportRoundTrip(t *testing.T) {
	_, addr := startTestTransport(t)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := msgio.NewReader(conn)
	writer := msgio.NewWriter(conn)

	send := func(v any) {
		t.Helper()
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := writer.WriteMsg(data); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	receive := func() *Response {
		t.Helper()
		msg, err := reader.ReadMsg()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		defer reader.ReleaseMsg(msg)
		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return &resp
	}

	send(Request{RequestID: "ping-1", ServiceType: "health", Operation: "ping"})
	resp := receive()
	if !resp.Success || resp.RequestID != "ping-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// One connection serves a sequence of requests.
	send(Request{RequestID: "ping-2", ServiceType: "health", Operation: "ping"})
	if resp := receive(); resp.RequestID != "ping-2" {
		t.Fatalf("expected ping-2, got %q", resp.RequestID)
	}

	// An unroutable envelope still gets a structured failure.
	send(Request{RequestID: "bad-1", ServiceType: "ghost", Operation: "walk"})
	resp = receive()
	if resp.Success || resp.RequestID != "bad-1" {
		t.Fatalf("expected failure for unknown target, got %+v", resp)
	}
}

func TestTransportMalformedFrame(t *testing.T) {
	_, addr := startTestTransport(t)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	writer := msgio.NewWriter(conn)
	reader := msgio.NewReader(conn)

	if err := writer.WriteMsg([]byte("{not json")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	msg, err := reader.ReadMsg()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure for malformed envelope")
	}
}
