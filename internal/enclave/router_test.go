package enclave

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	memorystore "github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/memory"
)

func TestDispatchEchoesRequestID(t *testing.T) {
	r := NewRouter(nil)
	r.Handle("health", "ping", func(context.Context, *Request) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	resp := r.Dispatch(context.Background(), &Request{
		RequestID:   "req-1",
		ServiceType: "health",
		Operation:   "ping",
	})

	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.RequestID != "req-1" {
		t.Fatalf("expected echoed request ID, got %q", resp.RequestID)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.ErrorMessage)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body)
	}
}

func TestDispatchValidation(t *testing.T) {
	r := NewRouter(nil)
	r.Handle("svc", "op", func(context.Context, *Request) (any, error) { return nil, nil })

	cases := []struct {
		name string
		req  *Request
		want string
	}{
		{"nil request", nil, "empty request"},
		{"missing request id", &Request{ServiceType: "svc", Operation: "op"}, "requestId is required"},
		{"missing target", &Request{RequestID: "r"}, "serviceType and operation are required"},
		{"unknown target", &Request{RequestID: "r", ServiceType: "svc", Operation: "nope"}, "unknown target"},
	}
	for _, tc := range cases {
		resp := r.Dispatch(context.Background(), tc.req)
		if resp == nil {
			t.Fatalf("%s: expected a response", tc.name)
		}
		if resp.Success {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if !strings.Contains(resp.ErrorMessage, tc.want) {
			t.Fatalf("%s: expected %q in error, got %q", tc.name, tc.want, resp.ErrorMessage)
		}
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := NewRouter(nil)
	r.Handle("svc", "fail", func(context.Context, *Request) (any, error) {
		return nil, fmt.Errorf("backend exploded")
	})

	resp := r.Dispatch(context.Background(), &Request{RequestID: "r", ServiceType: "svc", Operation: "fail"})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorMessage != "backend exploded" {
		t.Fatalf("expected verbatim handler error, got %q", resp.ErrorMessage)
	}
	if resp.RequestID != "r" {
		t.Fatalf("expected echoed request ID, got %q", resp.RequestID)
	}
}

func TestDispatchPanicBecomesFailureEnvelope(t *testing.T) {
	r := NewRouter(nil)
	r.Handle("svc", "panic", func(context.Context, *Request) (any, error) {
		panic("boom")
	})

	resp := r.Dispatch(context.Background(), &Request{RequestID: "r", ServiceType: "svc", Operation: "panic"})
	if resp == nil {
		t.Fatal("expected a response despite the panic")
	}
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(resp.ErrorMessage, "boom") {
		t.Fatalf("expected panic message, got %q", resp.ErrorMessage)
	}
	if resp.RequestID != "r" {
		t.Fatalf("expected echoed request ID, got %q", resp.RequestID)
	}
}

func TestDispatchRateLimitPerCaller(t *testing.T) {
	r := NewRouter(nil).WithRateLimit(1, 1)
	r.Handle("svc", "op", func(context.Context, *Request) (any, error) { return "ok", nil })

	first := r.Dispatch(context.Background(), &Request{
		RequestID: "r1", ServiceType: "svc", Operation: "op", Caller: "alice",
	})
	if !first.Success {
		t.Fatalf("first call should pass: %s", first.ErrorMessage)
	}

	second := r.Dispatch(context.Background(), &Request{
		RequestID: "r2", ServiceType: "svc", Operation: "op", Caller: "alice",
	})
	if second.Success {
		t.Fatal("second call should be rate limited")
	}
	if !strings.Contains(second.ErrorMessage, "rate limit") {
		t.Fatalf("expected rate limit error, got %q", second.ErrorMessage)
	}

	other := r.Dispatch(context.Background(), &Request{
		RequestID: "r3", ServiceType: "svc", Operation: "op", Caller: "bob",
	})
	if !other.Success {
		t.Fatalf("separate caller should have its own bucket: %s", other.ErrorMessage)
	}
}

func TestGasBankRoutes(t *testing.T) {
	ctx := context.Background()
	ledger := gasbanksvc.New(memorystore.New(), gasbanksvc.Options{}, nil)
	r := NewRouter(nil)
	RegisterHandlers(r, Backends{GasBank: ledger})

	dispatch := func(op string, payload string) *Response {
		t.Helper()
		return r.Dispatch(ctx, &Request{
			RequestID:   "req-" + op,
			ServiceType: "gasbank",
			Operation:   op,
			Payload:     json.RawMessage(payload),
			Caller:      "alice",
		})
	}

	if resp := dispatch("deposit", `{"amount":"500"}`); !resp.Success {
		t.Fatalf("deposit: %s", resp.ErrorMessage)
	}

	resp := r.Dispatch(ctx, &Request{
		RequestID: "bal", ServiceType: "gasbank", Operation: "getBalance", Caller: "alice",
	})
	if !resp.Success {
		t.Fatalf("getBalance: %s", resp.ErrorMessage)
	}
	var balance map[string]string
	if err := json.Unmarshal(resp.Payload, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance["balance"] != "500" || balance["available"] != "500" {
		t.Fatalf("unexpected balance payload: %v", balance)
	}

	if resp := dispatch("reserveGas", `{"amount":"200"}`); !resp.Success {
		t.Fatalf("reserveGas: %s", resp.ErrorMessage)
	}

	resp = r.Dispatch(ctx, &Request{
		RequestID: "bal2", ServiceType: "gasbank", Operation: "getBalance", Caller: "alice",
	})
	if err := json.Unmarshal(resp.Payload, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance["available"] != "300" {
		t.Fatalf("expected available 300 after reservation, got %s", balance["available"])
	}

	if resp := dispatch("withdraw", `{"amount":"400"}`); resp.Success {
		t.Fatal("withdraw beyond available balance should fail")
	}

	if resp := dispatch("deposit", `{"amount":"bogus"}`); resp.Success {
		t.Fatal("malformed amount should fail")
	}
}
