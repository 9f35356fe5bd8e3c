package mqtt

import (
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/nugget/system-monitor/internal/config"
)

// Message is one outgoing publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectParams is everything needed for a single connection attempt.
type ConnectParams struct {
	Address    string // host:port
	TLS        bool
	ClientID   string
	Username   string
	Password   string
	KeepAlive  uint16
	CleanStart bool
	Will       *Message
}

// URL renders the broker address for logs.
func (p ConnectParams) URL() string {
	if p.TLS {
		return "mqtts://" + p.Address
	}
	return "mqtt://" + p.Address
}

// DefaultKeepAlive is used when the configuration leaves it unset.
const DefaultKeepAlive = 30

// BuildConnectParams assembles the parameters for one attempt. It is
// called afresh for every attempt with a new clientID.
func BuildConnectParams(cfg config.MQTTConfig, clientID string, will *Message) ConnectParams {
	keepAlive := cfg.KeepAliveSec
	if keepAlive == 0 {
		keepAlive = DefaultKeepAlive
	}
	return ConnectParams{
		Address:    net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))),
		TLS:        cfg.TLS,
		ClientID:   clientID,
		Username:   cfg.Username,
		Password:   cfg.Password,
		KeepAlive:  keepAlive,
		CleanStart: true,
		Will:       will,
	}
}

// NewSessionID returns a client ID unique to one connection attempt.
// UUIDv7 embeds a millisecond timestamp, so IDs sort by attempt time.
func NewSessionID(programName string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return programName + "-" + id.String()
}
