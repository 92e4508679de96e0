package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/tbruckner/privd/internal/privd/types"
)

// SyslogSink delivers records to a remote syslog endpoint as RFC 5424
// messages over TCP, optionally TLS-wrapped. The connection is held open
// across deliveries and redialed on write failure.
type SyslogSink struct {
	addr     string
	useTLS   bool
	facility int
	severity int
	maxSize  int
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

func NewSyslogSink(cfg types.SyslogSinkConfig) *SyslogSink {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &SyslogSink{
		addr:     net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		useTLS:   cfg.UseTLS,
		facility: cfg.Facility,
		severity: cfg.Severity,
		maxSize:  cfg.MaxMessageSize,
		hostname: hostname,
	}
}

func (s *SyslogSink) Name() string { return "syslog:" + s.addr }

func (s *SyslogSink) Deliver(ctx context.Context, rec Record) error {
	msg := formatRFC5424(s.facility, s.severity, s.hostname, s.maxSize, rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.dialLocked(ctx); err != nil {
			return err
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(msg); err == nil {
		return nil
	}

	// Stale connection; redial once and retry the write.
	s.conn.Close()
	s.conn = nil
	if err := s.dialLocked(ctx); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(msg); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("syslog write: %w", err)
	}
	return nil
}

func (s *SyslogSink) dialLocked(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("syslog dial %s: %w", s.addr, err)
	}
	if s.useTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: hostOnly(s.addr)})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("syslog tls handshake %s: %w", s.addr, err)
		}
		conn = tlsConn
	}
	s.conn = conn
	return nil
}

func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
