package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"gopkg.in/irc.v4"

	"chanbot/internal/model"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 10 * time.Second

const dialTimeout = 30 * time.Second

// Handler receives classified events in receipt order. It is called from
// the connection's read loop and must not block on slow work.
type Handler interface {
	HandleEvent(ctx context.Context, ev model.Event)
}

// DialFunc opens the byte stream to the server described by p.
type DialFunc func(ctx context.Context, p *Profile) (io.ReadWriteCloser, error)

// Dial connects over TCP, with TLS when the profile asks for it.
// Certificates are always verified.
func Dial(ctx context.Context, p *Profile) (io.ReadWriteCloser, error) {
	nd := &net.Dialer{Timeout: dialTimeout}
	if !p.TLS {
		conn, err := nd.DialContext(ctx, "tcp", p.Addr())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", p.Addr(), err)
		}
		return conn, nil
	}
	td := &tls.Dialer{
		NetDialer: nd,
		Config:    &tls.Config{ServerName: p.Server, MinVersion: tls.VersionTLS12},
	}
	conn, err := td.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", p.Addr(), err)
	}
	return conn, nil
}

// Supervisor keeps one connection alive, reconnecting after a fixed delay.
type Supervisor struct {
	profile *Profile
	wire    *Wire
	handler Handler
	delay   time.Duration
	log     *slog.Logger

	dial  DialFunc
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor. A zero delay uses DefaultReconnectDelay.
func NewSupervisor(p *Profile, wire *Wire, h Handler, delay time.Duration, log *slog.Logger) *Supervisor {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Supervisor{
		profile: p,
		wire:    wire,
		handler: h,
		delay:   delay,
		log:     log,
		dial:    Dial,
		sleep:   sleepContext,
	}
}

// Run connects and reconnects until ctx is cancelled. Setup failures and
// dropped sessions are treated alike: log, wait the fixed delay, retry.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("connection ended, reconnecting", "error", err, "delay", s.delay)
		if err := s.sleep(ctx, s.delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	log := s.log.With("session_id", uuid.NewString(), "server", s.profile.Addr())
	log.Info("connecting", "tls", s.profile.TLS, "nick", s.profile.Nick)

	conn, err := s.dial(ctx, s.profile)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick: s.profile.Nick,
		Pass: s.profile.Password,
		User: s.profile.User,
		Name: s.profile.RealName,
		Handler: irc.HandlerFunc(func(c *irc.Client, m *irc.Message) {
			ev := Classify(m, c.CurrentNick())
			if ev.Kind == model.EventOther {
				return
			}
			log.Debug("event", "kind", ev.Kind, "command", ev.Command, "source", ev.Source.Nick, "target", ev.Target)
			s.handler.HandleEvent(ctx, ev)
		}),
	})

	s.wire.attach(client)
	defer s.wire.detach()

	err = client.RunContext(ctx)
	if err == nil {
		err = errors.New("connection closed")
	}
	log.Info("disconnected", "nick", s.wire.Nick(), "error", err)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
