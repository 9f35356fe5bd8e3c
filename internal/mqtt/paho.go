package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
)

// PahoDialer dials the broker over TCP or TLS and performs the MQTT v5
// CONNECT handshake with Eclipse Paho.
type PahoDialer struct {
	Logger *slog.Logger

	// TLSConfig is used for mqtts connections. Nil means system roots
	// with TLS 1.2 minimum.
	TLSConfig *tls.Config

	// DialTimeout bounds the TCP/TLS dial. Zero means 10 seconds.
	DialTimeout time.Duration
}

// Dial implements [Dialer].
func (d *PahoDialer) Dial(ctx context.Context, p ConnectParams) (Session, error) {
	conn, err := d.dialNet(ctx, p)
	if err != nil {
		return nil, err
	}

	s := &pahoSession{done: make(chan error, 1)}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s.client = paho.NewClient(paho.ClientConfig{
		ClientID: p.ClientID,
		Conn:     packets.NewThreadSafeConn(conn),
		OnClientError: func(err error) {
			logger.Debug("mqtt client error", "client_id", p.ClientID, "error", err)
			s.terminate(err)
		},
		OnServerDisconnect: func(disc *paho.Disconnect) {
			e := &DisconnectError{ReasonCode: disc.ReasonCode}
			if disc.Properties != nil {
				e.Reason = disc.Properties.ReasonString
			}
			s.terminate(e)
		},
	})

	cp := &paho.Connect{
		ClientID:     p.ClientID,
		KeepAlive:    p.KeepAlive,
		CleanStart:   p.CleanStart,
		Username:     p.Username,
		UsernameFlag: p.Username != "",
		Password:     []byte(p.Password),
		PasswordFlag: p.Password != "",
	}
	if p.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   p.Will.Topic,
			Payload: p.Will.Payload,
			QoS:     p.Will.QoS,
			Retain:  p.Will.Retain,
		}
	}

	ca, err := s.client.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		if ca != nil && ca.ReasonCode >= 0x80 {
			refused := &RefusedError{ReasonCode: ca.ReasonCode}
			if ca.Properties != nil {
				refused.Reason = ca.Properties.ReasonString
			}
			return nil, refused
		}
		return nil, fmt.Errorf("mqtt connect %s: %w", p.URL(), err)
	}

	return s, nil
}

func (d *PahoDialer) dialNet(ctx context.Context, p ConnectParams) (net.Conn, error) {
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	nd := &net.Dialer{Timeout: timeout}

	if !p.TLS {
		conn, err := nd.DialContext(ctx, "tcp", p.Address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", p.URL(), err)
		}
		return conn, nil
	}

	tlsCfg := d.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	td := &tls.Dialer{NetDialer: nd, Config: tlsCfg}
	conn, err := td.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.URL(), err)
	}
	return conn, nil
}

// pahoSession adapts a connected [paho.Client] to [Session].
type pahoSession struct {
	client *paho.Client
	once   sync.Once
	done   chan error
}

func (s *pahoSession) terminate(err error) {
	s.once.Do(func() {
		s.done <- err
		close(s.done)
	})
}

func (s *pahoSession) Publish(ctx context.Context, m Message) error {
	_, err := s.client.Publish(ctx, &paho.Publish{
		Topic:   m.Topic,
		Payload: m.Payload,
		QoS:     m.QoS,
		Retain:  m.Retain,
	})
	return err
}

func (s *pahoSession) Done() <-chan error {
	return s.done
}

// Close sends DISCONNECT with reason 0, so the broker discards the will.
func (s *pahoSession) Close(_ context.Context) error {
	err := s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	s.terminate(nil)
	return err
}
