package main

import (
	"errors"
	"fmt"
	"sync"

	"linewire/pkg/rpc"
)

// multiTransport serves several listeners (tcp, websocket, unix, nats) as
// one ServerTransport by funneling their accepted connections into a single
// channel.
type multiTransport struct {
	transports []rpc.ServerTransport
	connCh     chan rpc.Connection
	mu         sync.Mutex
	closed     bool
}

func newMultiTransport(transports []rpc.ServerTransport) *multiTransport {
	return &multiTransport{
		transports: transports,
		connCh:     make(chan rpc.Connection, 16),
	}
}

func (t *multiTransport) Listen() error {
	if len(t.transports) == 0 {
		return errors.New("no listeners configured")
	}

	for i, transport := range t.transports {
		if err := transport.Listen(); err != nil {
			for _, started := range t.transports[:i] {
				started.Close()
			}
			return err
		}
	}

	for _, transport := range t.transports {
		go t.acceptLoop(transport)
	}
	return nil
}

func (t *multiTransport) acceptLoop(transport rpc.ServerTransport) {
	for {
		conn, err := transport.Accept()
		if err != nil {
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		select {
		case t.connCh <- conn:
		default:
			conn.Close()
		}
		t.mu.Unlock()
	}
}

func (t *multiTransport) Accept() (rpc.Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, fmt.Errorf("transport is closed")
	}
	return conn, nil
}

func (t *multiTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.connCh)
	t.mu.Unlock()

	var firstErr error
	for _, transport := range t.transports {
		if err := transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
