package rpc

// ConnectError indicates the underlying channel could not be opened, or
// errored before the connection became ready.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "failed to connect to remote backend: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// AuthError indicates the configured credential was rejected during the
// connection handshake.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "auth failed"
	}
	return "auth failed: " + e.Message
}

// DisconnectedError indicates the connection dropped, was torn down, or was
// not open while a call was outstanding.
type DisconnectedError struct {
	Reason string
}

func (e *DisconnectedError) Error() string {
	if e.Reason == "" {
		return "remote backend disconnected"
	}
	return "remote backend disconnected: " + e.Reason
}

// RemoteError is an explicit error the server returned for a call.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
