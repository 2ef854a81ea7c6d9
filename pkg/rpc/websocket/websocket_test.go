package websocket_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewire/pkg/rpc"
	"linewire/pkg/rpc/websocket"
)

const (
	roundTripPort = 9581
	notifyPort    = 9582
	pathPort      = 9583
)

func startServer(t *testing.T, port int, path string, token string) *rpc.Server {
	t.Helper()

	server := rpc.NewServer(rpc.ServerConfig{
		Transport: websocket.NewServerTransport(websocket.ServerTransportConfig{
			Port: port,
			Path: path,
		}),
		Token: token,
	})
	server.Register("echo", func(ctx context.Context, req *rpc.Request) (any, error) {
		var params map[string]any
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, err
		}
		return params, nil
	})

	go func() {
		_ = server.ListenAndServe()
	}()
	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
	})

	// give the http server a moment to start accepting upgrades
	time.Sleep(100 * time.Millisecond)
	return server
}

func newClient(port int, path string, token string) *rpc.Client {
	return rpc.NewClient(rpc.ClientConfig{
		Transport: websocket.NewClientTransport(websocket.ClientTransportConfig{
			Host: "localhost",
			Port: port,
			Path: path,
		}),
		Token: token,
	})
}

func TestWebSocketCallRoundTrip(t *testing.T) {
	startServer(t, roundTripPort, "", "sesame")

	client := newClient(roundTripPort, "", "sesame")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "echo", map[string]any{"value": "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"hello"}`, string(result))
}

func TestWebSocketNotificationDelivery(t *testing.T) {
	server := startServer(t, notifyPort, "", "")

	client := newClient(notifyPort, "", "")
	defer client.Disconnect("test finished")

	received := make(chan json.RawMessage, 1)
	client.SetNotificationHandler(func(method string, params json.RawMessage) {
		if method == "heartbeat" {
			received <- params
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", map[string]any{"value": 1})
	require.NoError(t, err)

	server.Notify("heartbeat", map[string]int{"uptime_seconds": 3})

	select {
	case params := <-received:
		assert.JSONEq(t, `{"uptime_seconds":3}`, string(params))
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestWebSocketCustomPath(t *testing.T) {
	startServer(t, pathPort, "/daemon", "")

	client := newClient(pathPort, "/daemon", "")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", map[string]any{"value": 1})
	require.NoError(t, err)

	// the default path must not serve the custom-path endpoint
	wrongPath := newClient(pathPort, "", "")
	defer wrongPath.Disconnect("test finished")

	_, err = wrongPath.Call(ctx, "echo", nil)
	require.Error(t, err)
	var connectErr *rpc.ConnectError
	require.ErrorAs(t, err, &connectErr)
}
