// Package publisher pushes scheduler snapshots to a socket.io server, so a
// remote dashboard can follow a pipeline without polling it.
package publisher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/framegraph/internal/introspect"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	DefaultEvent          = "snapshot"
	DefaultInterval       = time.Second
	DefaultConnectTimeout = 15 * time.Second
)

// Config configures a Publisher.
type Config struct {
	URL                string
	Namespace          string
	Event              string
	Interval           time.Duration
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// Publisher emits one snapshot event per interval.
type Publisher struct {
	source introspect.Source
	cfg    Config
	target *url.URL
	logger *slog.Logger
	sent   atomic.Uint64
}

// New validates cfg. It does not connect.
func New(source introspect.Source, cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("publisher URL cannot be empty")
	}
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("publisher URL %q needs a scheme and a host", cfg.URL)
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		source: source,
		cfg:    cfg,
		target: target,
		logger: cfg.Logger.With("component", "publisher", "url", cfg.URL),
	}, nil
}

// Sent returns the number of snapshots emitted so far.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Run connects and publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	io, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		p.logger.Info("Disconnecting snapshot publisher.", "sid", io.Id(), "sent", p.sent.Load())
		io.Disconnect()
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := p.publish(io); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publish(io *socket.Socket) error {
	snap, err := p.source.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to take snapshot: %w", err)
	}
	if !io.Connected() {
		p.logger.Debug("Socket not connected, skipping snapshot.")
		return nil
	}
	io.Emit(p.cfg.Event, snap)
	p.sent.Add(1)
	return nil
}

func (p *Publisher) connect(ctx context.Context) (*socket.Socket, error) {
	opts := socket.DefaultOptions()
	if p.target.Path != "" {
		opts.SetPath(p.target.Path)
	}
	if p.cfg.InsecureSkipVerify {
		p.logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", p.target.Scheme, p.target.Host)
	io := socket.NewManager(baseURL, opts).Socket(p.cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		p.logger.Info("Snapshot publisher connected.", "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})

	p.logger.Debug("Connecting snapshot publisher.", "namespace", p.cfg.Namespace)
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(p.cfg.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", p.cfg.ConnectTimeout)
	}
}
