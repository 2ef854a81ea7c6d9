package nats_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsclient "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linewire/pkg/rpc"
	"linewire/pkg/rpc/nats"
)

func requireBroker(t *testing.T) {
	t.Helper()
	nc, err := natsclient.Connect(natsclient.DefaultURL, natsclient.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skip("nats server not reachable at " + natsclient.DefaultURL)
	}
	nc.Close()
}

func startServer(t *testing.T, subject string, token string) *rpc.Server {
	t.Helper()

	server := rpc.NewServer(rpc.ServerConfig{
		Transport: nats.NewServerTransport(nats.ServerTransportConfig{
			URL:     natsclient.DefaultURL,
			Subject: subject,
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

	time.Sleep(100 * time.Millisecond)
	return server
}

func newClient(subject string, token string) *rpc.Client {
	return rpc.NewClient(rpc.ClientConfig{
		Transport: nats.NewClientTransport(nats.ClientTransportConfig{
			URL:     natsclient.DefaultURL,
			Subject: subject,
		}),
		Token: token,
	})
}

func TestNATSCallRoundTrip(t *testing.T) {
	requireBroker(t)
	startServer(t, "linewire.test.roundtrip", "sesame")

	client := newClient("linewire.test.roundtrip", "sesame")
	defer client.Disconnect("test finished")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "echo", map[string]any{"value": "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"hello"}`, string(result))
}

func TestNATSNotificationDelivery(t *testing.T) {
	requireBroker(t)
	server := startServer(t, "linewire.test.notify", "")

	client := newClient("linewire.test.notify", "")
	defer client.Disconnect("test finished")

	received := make(chan string, 1)
	client.SetNotificationHandler(func(method string, params json.RawMessage) {
		received <- method
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", map[string]any{"value": 1})
	require.NoError(t, err)

	server.Notify("heartbeat", map[string]int{"uptime_seconds": 1})

	select {
	case method := <-received:
		assert.Equal(t, "heartbeat", method)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestNATSConnectFailure(t *testing.T) {
	client := rpc.NewClient(rpc.ClientConfig{
		Transport: nats.NewClientTransport(nats.ClientTransportConfig{
			URL: "nats://localhost:65530",
		}),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "echo", nil)
	require.Error(t, err)
	var connectErr *rpc.ConnectError
	require.ErrorAs(t, err, &connectErr)
}
