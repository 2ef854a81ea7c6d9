package rpc

// Connection represents a bidirectional message channel to the remote peer.
// A frame is one or more newline-delimited JSON payloads; any additional
// framing (length headers, websocket frames, subjects) belongs to the
// transport and is invisible at this layer.
type Connection interface {
	// Send sends a single text frame to the remote peer
	Send(data []byte) error

	// Receive blocks until a frame is received from the remote peer.
	// A normal close is reported as an error whose message is
	// "connection closed".
	Receive() ([]byte, error)

	// Close closes the connection
	Close() error
}

// ServerTransport handles incoming connections for the server
type ServerTransport interface {
	// Listen starts listening for incoming connections
	Listen() error

	// Accept blocks until a new connection is available
	Accept() (Connection, error)

	// Close stops listening and closes the transport
	Close() error
}

// ClientTransport handles outgoing connections for the client
type ClientTransport interface {
	// Connect establishes a connection to the server
	Connect() (Connection, error)
}
