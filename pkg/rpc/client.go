package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"unicode/utf8"

	"linewire/pkg/log"
)

// NotificationHandler receives unsolicited push frames from the backend.
type NotificationHandler func(method string, params json.RawMessage)

// Client multiplexes concurrent calls over one connection to a long-lived
// backend daemon. It owns at most one connection and one in-flight connect
// attempt at a time; concurrent callers that arrive while a connect is
// underway await the same attempt rather than opening duplicate sockets.
type Client struct {
	conf      ClientConfig
	mu        sync.Mutex
	transport ClientTransport
	token     string
	conn      Connection
	attempt   *connectAttempt
	pending   map[uint64]chan callResult
	nextID    uint64
	notify    NotificationHandler
}

type ClientConfig struct {
	Transport  ClientTransport
	Token      string
	ErrHandler func(error)
	Logger     log.Logger
}

type callResult struct {
	result json.RawMessage
	err    error
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

func NewClient(conf ClientConfig) *Client {
	return &Client{
		conf:      conf,
		transport: conf.Transport,
		token:     conf.Token,
		pending:   make(map[uint64]chan callResult),
	}
}

func (c *Client) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Client) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Client) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

// Configure updates the target transport and credential. If either differs
// from the active values the current connection is torn down so the next
// call reconnects with the new parameters; otherwise it is a no-op.
func (c *Client) Configure(transport ClientTransport, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if transport == c.transport && token == c.token {
		return
	}

	c.transport = transport
	c.token = token
	c.teardownLocked("connection parameters changed")
}

// SetNotificationHandler installs the single notification sink. Replacing it
// discards the previous handler; passing nil drops future notifications.
func (c *Client) SetNotificationHandler(handler NotificationHandler) {
	c.mu.Lock()
	c.notify = handler
	c.mu.Unlock()
}

// Disconnect closes the underlying channel, abandons any in-flight connect
// attempt, and rejects every pending call with a disconnection error
// carrying reason. No caller is ever left hanging past a teardown.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	c.teardownLocked(reason)
	c.mu.Unlock()
}

func (c *Client) teardownLocked(reason string) {
	if c.conn != nil {
		// errors from closing a connection we are discarding are irrelevant
		_ = c.conn.Close()
		c.conn = nil
	}
	c.attempt = nil
	c.failPendingLocked(&DisconnectedError{Reason: reason})
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callResult{err: err}
	}
}

// Call invokes method on the backend and blocks until the matching response
// arrives, the connection drops, or ctx is done. A nil params is sent as an
// empty object. Exactly one frame is sent per call, plus one transparent
// auth frame the first time a connection is established with a credential
// configured.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// torn down between the connect attempt settling and the send
		return nil, &DisconnectedError{}
	}

	return c.call(ctx, conn, method, params)
}

// ensureConnected guarantees an open, authenticated connection, dialing one
// if needed. Only one connect attempt may be in flight; late arrivals wait
// for it and share its outcome.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	for {
		if c.attempt == nil && c.conn != nil {
			c.mu.Unlock()
			return nil
		}
		if c.attempt == nil {
			break
		}
		a := c.attempt
		c.mu.Unlock()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if a.err != nil {
			return a.err
		}
		c.mu.Lock()
	}

	a := &connectAttempt{done: make(chan struct{})}
	c.attempt = a
	transport := c.transport
	token := c.token
	c.mu.Unlock()

	err := c.connect(a, transport, token)

	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
		if err != nil && c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
	}
	c.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

func (c *Client) connect(a *connectAttempt, transport ClientTransport, token string) error {
	if transport == nil {
		return &ConnectError{Err: errors.New("no transport configured")}
	}

	c.logDebug("connecting to backend")
	conn, err := transport.Connect()
	if err != nil {
		return &ConnectError{Err: err}
	}

	c.mu.Lock()
	if c.attempt != a {
		// torn down while dialing; this socket is an orphan
		c.mu.Unlock()
		_ = conn.Close()
		return &DisconnectedError{}
	}
	c.conn = conn
	c.mu.Unlock()

	go c.receiveLoop(conn)

	if token == "" {
		c.logDebug("connection ready")
		return nil
	}

	return c.authenticate(conn, token)
}

// authenticate performs the credential handshake. It is an ordinary
// correlated call through the same id-allocation and pending machinery, so a
// close while it is outstanding rejects it like any other pending call.
func (c *Client) authenticate(conn Connection, token string) error {
	c.logDebug("authenticating")

	_, err := c.call(context.Background(), conn, "auth", map[string]string{"token": token})
	if err == nil {
		c.logDebug("connection ready")
		return nil
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return &AuthError{Message: remote.Message}
	}
	return err
}

func (c *Client) call(ctx context.Context, conn Connection, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.unregister(id)
		return nil, err
	}

	if err := conn.Send(frame); err != nil {
		c.unregister(id)
		return nil, &DisconnectedError{Reason: err.Error()}
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) receiveLoop(conn Connection) {
	for {
		data, err := conn.Receive()
		if err != nil {
			if err.Error() == "connection closed" {
				c.logDebug("connection closed")
				c.handleClosed(conn, &DisconnectedError{})
			} else {
				c.logError("connection error: " + err.Error())
				c.handleClosed(conn, &DisconnectedError{Reason: err.Error()})
				if c.conf.ErrHandler != nil {
					c.conf.ErrHandler(err)
				}
			}
			return
		}
		c.handleData(data)
	}
}

// handleClosed tears down state for a dropped connection. Pending calls must
// never outlive their connection, so every one of them is rejected here. A
// receive loop whose connection was already replaced has nothing left to
// clean up.
func (c *Client) handleClosed(conn Connection, err *DisconnectedError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.conn = nil
	c.failPendingLocked(err)
}

// handleData processes one delivery, which may carry several newline-joined
// payloads. Binary deliveries are tolerated as UTF-8 text; undecodable ones
// are dropped. A malformed payload never aborts its siblings.
func (c *Client) handleData(data []byte) {
	if !utf8.Valid(data) {
		c.logWarn("dropping frame that is not valid utf-8")
		return
	}
	for _, frame := range splitFrames(data) {
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.logWarn("dropping malformed frame")
		return
	}

	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			// stale replies are expected after a teardown; drop them
			c.logDebug("dropping response with unknown id")
			return
		}

		if len(msg.Error) > 0 && !bytes.Equal(msg.Error, jsonNull) {
			ch <- callResult{err: remoteError(msg.Error)}
		} else {
			ch <- callResult{result: msg.Result}
		}
		return
	}

	if msg.Method != "" {
		c.mu.Lock()
		handler := c.notify
		c.mu.Unlock()
		if handler != nil {
			handler(msg.Method, msg.Params)
		}
		return
	}

	// neither a response nor a notification
	c.logWarn("dropping frame with no id and no method")
}
