package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	natsSubjectPrefix = "ndr.rpc."
	natsQueueGroup    = "ndr-workers"
)

// NATSTransport carries PDUs over NATS request/reply. Endpoints subscribe
// in a queue group, so several servers on one endpoint share the load.
type NATSTransport struct {
	Name    string
	Options []nats.Option
}

// NewNATSTransport creates the ncacn_nats transport. opts are appended to
// the default connection options.
func NewNATSTransport(opts ...nats.Option) *NATSTransport {
	return &NATSTransport{Name: "ndr-runtime", Options: opts}
}

func (t *NATSTransport) Protseq() ProtocolSequence { return ProtocolNATS }

func (t *NATSTransport) connect(sb StringBinding) (*nats.Conn, error) {
	url := sb.NetworkAddress
	if url == "" {
		url = nats.DefaultURL
	}
	log := Logger().With(zap.String("url", url))
	opts := []nats.Option{
		nats.Name(t.Name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
	}
	opts = append(opts, t.Options...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, bindError(StatusServerUnavailable, "connect "+url, err)
	}
	return nc, nil
}

func natsSubject(sb StringBinding) (string, error) {
	if strings.ContainsAny(sb.Endpoint, " \t\r\n*>") {
		return "", bindError(StatusInvalidStringBinding, fmt.Sprintf("endpoint %q is not a subject token", sb.Endpoint), nil)
	}
	return natsSubjectPrefix + sb.Endpoint, nil
}

type natsListener struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	gate *gate
}

func (t *NATSTransport) Listen(_ context.Context, sb StringBinding, queue chan<- *Request) (Listener, error) {
	subject, err := natsSubject(sb)
	if err != nil {
		return nil, err
	}
	nc, err := t.connect(sb)
	if err != nil {
		return nil, err
	}
	l := &natsListener{nc: nc, gate: newGate()}
	l.sub, err = nc.QueueSubscribe(subject, natsQueueGroup, func(msg *nats.Msg) {
		req := NewRequest(msg.Data, msg.Respond)
		if err := l.gate.deliver(context.Background(), queue, req); err != nil {
			debugf("nats: dropped request on %s: %v", subject, err)
		}
	})
	if err != nil {
		nc.Close()
		return nil, bindError(StatusServerUnavailable, "subscribe "+subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, bindError(StatusServerUnavailable, "subscribe "+subject, err)
	}
	Logger().Debug("nats endpoint listening", zap.String("subject", subject))
	return l, nil
}

func (l *natsListener) Close() error {
	err := l.sub.Unsubscribe()
	l.gate.close()
	if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
		err = nil
	}
	return err
}

func (l *natsListener) Shutdown() error {
	if err := l.nc.Flush(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		l.nc.Close()
		return err
	}
	l.nc.Close()
	return nil
}

type natsConn struct {
	nc      *nats.Conn
	subject string
}

func (t *NATSTransport) Dial(_ context.Context, sb StringBinding) (Conn, error) {
	subject, err := natsSubject(sb)
	if err != nil {
		return nil, err
	}
	nc, err := t.connect(sb)
	if err != nil {
		return nil, err
	}
	return &natsConn{nc: nc, subject: subject}, nil
}

func (c *natsConn) RoundTrip(ctx context.Context, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, bindError(StatusServerUnavailable, "no endpoint on "+c.subject, err)
	}
	return nil, bindError(StatusServerUnavailable, "request on "+c.subject, err)
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}
