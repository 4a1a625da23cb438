package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/libp2p/go-msgio"

	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// maxEnvelopeSize bounds one framed message. Function source plus arguments
// fit comfortably; anything larger is a protocol violation.
const maxEnvelopeSize = 8 << 20

// Transport serves request envelopes over length-prefixed JSON frames. One
// connection carries a sequence of request/response pairs; responses are
// written in request order.
type Transport struct {
	router *Router
	ln     net.Listener
	log    *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTransport creates a transport serving the router on the listener.
func NewTransport(router *Router, ln net.Listener, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.NewDefault("enclave-transport")
	}
	return &Transport{router: router, ln: ln, log: log}
}

// Name implements system.Service.
func (t *Transport) Name() string { return "enclave-transport" }

// Start launches the accept loop.
func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("transport already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.acceptLoop(ctx)

	t.log.Infof("envelope transport listening on %s", t.ln.Addr())
	return nil
}

// Stop closes the listener and waits for in-flight connections to finish.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	err := t.ln.Close()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("accept failed")
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn handles one connection until EOF, close, or context
// cancellation. A malformed frame produces a failure envelope rather than a
// dropped request; only transport-level failures end the session.
func (t *Transport) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := msgio.NewReaderSize(conn, maxEnvelopeSize)
	writer := msgio.NewWriter(conn)

	for {
		msg, err := reader.ReadMsg()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				t.log.WithError(err).Debug("read frame failed")
			}
			return
		}

		var req Request
		var resp *Response
		if err := json.Unmarshal(msg, &req); err != nil {
			resp = failure("", "malformed request envelope")
		} else {
			resp = t.router.Dispatch(ctx, &req)
		}
		reader.ReleaseMsg(msg)

		encoded, err := json.Marshal(resp)
		if err != nil {
			t.log.WithError(err).Error("encode response envelope")
			encoded, _ = json.Marshal(failure(resp.RequestID, "encode response"))
		}
		if err := writer.WriteMsg(encoded); err != nil {
			if ctx.Err() == nil {
				t.log.WithError(err).Warn("write frame failed")
			}
			return
		}
	}
}
