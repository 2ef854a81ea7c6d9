package tcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewire/pkg/rpc"
	"linewire/pkg/rpc/tcp"
)

const (
	roundTripPort   = 9571
	notifyPort      = 9572
	badTokenPort    = 9573
	unreachablePort = 9574
	concurrencyPort = 9575
)

func startServer(t *testing.T, port int, token string) *rpc.Server {
	t.Helper()

	server := rpc.NewServer(rpc.ServerConfig{
		Transport: tcp.NewServerTransport(tcp.ServerTransportConfig{
			Port:    port,
			NoDelay: true,
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

	// give the listener a moment to bind
	time.Sleep(50 * time.Millisecond)
	return server
}

func newClient(port int, token string) *rpc.Client {
	return rpc.NewClient(rpc.ClientConfig{
		Transport: tcp.NewClientTransport(tcp.ClientTransportConfig{
			Host:    "localhost",
			Port:    port,
			NoDelay: true,
		}),
		Token: token,
	})
}

func TestTCPCallRoundTrip(t *testing.T) {
	startServer(t, roundTripPort, "sesame")

	client := newClient(roundTripPort, "sesame")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "echo", map[string]any{"value": "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"hello"}`, string(result))
}

func TestTCPNotificationDelivery(t *testing.T) {
	server := startServer(t, notifyPort, "")

	client := newClient(notifyPort, "")
	defer client.Disconnect("test finished")

	received := make(chan json.RawMessage, 1)
	client.SetNotificationHandler(func(method string, params json.RawMessage) {
		if method == "heartbeat" {
			received <- params
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// establish the connection before broadcasting
	_, err := client.Call(ctx, "echo", map[string]any{"value": 1})
	require.NoError(t, err)

	server.Notify("heartbeat", map[string]int{"uptime_seconds": 12})

	select {
	case params := <-received:
		assert.JSONEq(t, `{"uptime_seconds":12}`, string(params))
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestTCPBadTokenRejected(t *testing.T) {
	startServer(t, badTokenPort, "sesame")

	client := newClient(badTokenPort, "wrong")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", nil)
	require.Error(t, err)
	var authErr *rpc.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestTCPConnectFailure(t *testing.T) {
	client := newClient(unreachablePort, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", nil)
	require.Error(t, err)
	var connectErr *rpc.ConnectError
	require.ErrorAs(t, err, &connectErr)
}

func TestTCPConcurrentCalls(t *testing.T) {
	startServer(t, concurrencyPort, "")

	client := newClient(concurrencyPort, "")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 16

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			result, err := client.Call(ctx, "echo", map[string]any{"slot": i})
			if err != nil {
				errs <- err
				return
			}
			var params struct {
				Slot int `json:"slot"`
			}
			if err := json.Unmarshal(result, &params); err != nil {
				errs <- err
				return
			}
			if params.Slot != i {
				errs <- fmt.Errorf("slot %d got response for slot %d", i, params.Slot)
				return
			}
			errs <- nil
		}(i)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}
