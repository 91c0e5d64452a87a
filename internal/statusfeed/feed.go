// Package statusfeed mirrors progress events to a Socket.IO server. Console
// output stays the primary progress signal; the feed is best effort and
// never fails a run.
package statusfeed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the Socket.IO event name progress is emitted under.
const DefaultEvent = "status"

// Config describes the server to mirror to.
type Config struct {
	URL                string
	Namespace          string
	Event              string
	RunID              string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

type emitter interface {
	Emit(ev string, args ...any) error
	Connected() bool
}

// Feed is a progress.Reporter that emits every event to a Socket.IO server.
type Feed struct {
	io    emitter
	event string
	runID string
	close func()
}

// Dial connects to the server and waits for the connection to be
// established, the context to end or the connect timeout to expire.
func Dial(ctx context.Context, cfg Config) (*Feed, error) {
	logger := ctxlog.FromContext(ctx).With("status_url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("status URL %q must be absolute", cfg.URL)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "/"
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification for the status feed.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Status feed connected.", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})

	logger.Debug("Connecting status feed.")
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("status feed connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("status feed connection cancelled: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for the status feed connection", timeout)
	}

	return newFeed(io, cfg, func() { io.Disconnect() }), nil
}

func newFeed(io emitter, cfg Config, closeFn func()) *Feed {
	event := cfg.Event
	if event == "" {
		event = DefaultEvent
	}
	return &Feed{io: io, event: event, runID: cfg.RunID, close: closeFn}
}

// Report implements progress.Reporter. Events are dropped while the socket is
// disconnected.
func (f *Feed) Report(ctx context.Context, ev progress.Event) {
	if !f.io.Connected() {
		ctxlog.FromContext(ctx).Debug("Status feed disconnected, dropping event.", "stage", ev.Stage)
		return
	}
	payload := ev.Fields()
	if f.runID != "" {
		payload["run_id"] = f.runID
	}
	if err := f.io.Emit(f.event, payload); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to emit status event.", "stage", ev.Stage, "error", err)
	}
}

// Close disconnects from the server.
func (f *Feed) Close() error {
	if f.close != nil {
		f.close()
	}
	return nil
}
