package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/travelhub/travelhub/utils"
)

const natsSubjectPrefix = "chat."

// NATSBroker uses core NATS subjects named chat.<room>.
type NATSBroker struct {
	nc *nats.Conn
}

// DialNATS connects to url and keeps reconnecting in the background.
func DialNATS(url string) (*NATSBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name("travelhub-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				utils.Sugar.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			utils.Sugar.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBroker{nc: nc}, nil
}

// Publish sends payload on the room subject.
func (b *NATSBroker) Publish(_ context.Context, room string, payload []byte) error {
	if b.nc == nil || !b.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return b.nc.Publish(natsSubjectPrefix+room, payload)
}

// Subscribe registers an async subscription on the room subject.
func (b *NATSBroker) Subscribe(room string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(natsSubjectPrefix+room, func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
