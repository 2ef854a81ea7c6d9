package nats

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"linewire/pkg/rpc"
)

// DefaultSubject is the subject clients publish frames to when none is
// configured.
const DefaultSubject = "linewire.rpc"

// The NATS transport maps the persistent duplex connection onto a subject
// pair: every client frame is published to the service subject with the
// client's private inbox as the reply; the server keys its connection state
// by that inbox and publishes every outbound frame (responses and
// notifications alike) to it.

// ServerTransport implements ServerTransport for NATS
type ServerTransport struct {
	URL         string
	Subject     string
	nc          *nats.Conn
	sub         *nats.Subscription
	connCh      chan rpc.Connection
	activeConns map[string]*natsServerConnection
	mu          *sync.Mutex
	closed      bool
}

type ServerTransportConfig struct {
	URL     string
	Subject string // Subject to serve on; defaults to DefaultSubject
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ServerTransport{
		URL:         config.URL,
		Subject:     subject,
		connCh:      make(chan rpc.Connection, 16),
		activeConns: make(map[string]*natsServerConnection),
		mu:          &sync.Mutex{},
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		return fmt.Errorf("transport is already listening")
	}

	nc, err := nats.Connect(t.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(t.Subject, t.handleMsg)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to subject %s: %w", t.Subject, err)
	}

	t.nc = nc
	t.sub = sub
	return nil
}

func (t *ServerTransport) handleMsg(msg *nats.Msg) {
	// frames without a reply inbox have no return path; drop them
	if msg.Reply == "" {
		return
	}

	t.mu.Lock()

	conn := t.activeConns[msg.Reply]
	if conn != nil {
		t.mu.Unlock()

		select {
		case conn.inCh <- msg.Data:
		case <-conn.closed:
			// Connection closed, drop message
		default:
			// Channel full, drop message
		}
		return
	}

	// First frame from this inbox starts a new connection
	conn = &natsServerConnection{
		nc:      t.nc,
		replyTo: msg.Reply,
		inCh:    make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	conn.inCh <- msg.Data
	t.activeConns[msg.Reply] = conn

	// Clean up when connection closes
	go func(inbox string) {
		<-conn.closed
		t.mu.Lock()
		delete(t.activeConns, inbox)
		t.mu.Unlock()
	}(msg.Reply)

	closed := t.closed
	t.mu.Unlock()

	if closed {
		conn.Close()
		return
	}

	select {
	case t.connCh <- conn:
	default:
		conn.Close()
	}
}

func (t *ServerTransport) Accept() (rpc.Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, fmt.Errorf("transport is closed")
	}
	return conn, nil
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.connCh)

	conns := make([]*natsServerConnection, 0, len(t.activeConns))
	for _, conn := range t.activeConns {
		conns = append(conns, conn)
	}

	sub := t.sub
	nc := t.nc
	t.sub = nil
	t.nc = nil
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	if nc != nil {
		nc.Close()
	}
	return nil
}

type natsServerConnection struct {
	nc      *nats.Conn
	replyTo string
	inCh    chan []byte
	closed  chan struct{}
	mu      sync.Mutex
	done    bool
}

func (c *natsServerConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return fmt.Errorf("connection closed")
	}
	return c.nc.Publish(c.replyTo, data)
}

func (c *natsServerConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.inCh:
		return data, nil
	case <-c.closed:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *natsServerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil
	}
	c.done = true
	close(c.closed)
	return nil
}

// ClientTransport implements ClientTransport for NATS
type ClientTransport struct {
	URL     string
	Subject string
}

type ClientTransportConfig struct {
	URL     string
	Subject string // Subject the server serves on; defaults to DefaultSubject
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ClientTransport{
		URL:     config.URL,
		Subject: subject,
	}
}

func (t *ClientTransport) Connect() (rpc.Connection, error) {
	nc, err := nats.Connect(t.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create inbox and subscription for this connection
	inbox := nats.NewInbox()
	inCh := make(chan *nats.Msg, 256)

	sub, err := nc.ChanSubscribe(inbox, inCh)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to inbox: %w", err)
	}

	return &natsClientConnection{
		nc:      nc,
		subject: t.Subject,
		inbox:   inbox,
		sub:     sub,
		inCh:    inCh,
		closed:  make(chan struct{}),
	}, nil
}

// natsClientConnection implements Connection for NATS
type natsClientConnection struct {
	nc      *nats.Conn
	subject string
	inbox   string
	sub     *nats.Subscription
	inCh    chan *nats.Msg
	closed  chan struct{}
	mu      sync.Mutex
	done    bool
}

func (c *natsClientConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return fmt.Errorf("connection closed")
	}

	msg := &nats.Msg{
		Subject: c.subject,
		Reply:   c.inbox,
		Data:    data,
	}
	return c.nc.PublishMsg(msg)
}

func (c *natsClientConnection) Receive() ([]byte, error) {
	select {
	case msg, ok := <-c.inCh:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return msg.Data, nil
	case <-c.closed:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *natsClientConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil
	}
	c.done = true
	close(c.closed)

	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.nc.Close()
	return nil
}
