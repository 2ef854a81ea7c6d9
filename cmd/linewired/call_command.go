package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"linewire/pkg/rpc"
	"linewire/pkg/rpc/nats"
	"linewire/pkg/rpc/tcp"
	"linewire/pkg/rpc/unix"
	"linewire/pkg/rpc/websocket"
)

func newCallCommand() *cobra.Command {
	var (
		transportFlag string
		addrFlag      string
		tokenFlag     string
		timeoutFlag   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call METHOD [PARAMS]",
		Short: "Invoke a method on a running daemon",
		Long:  "Invoke a method on a running daemon. PARAMS is a JSON object; it defaults to {}.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]

			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("invalid params: %w", err)
				}
			}

			if tokenFlag == "" {
				tokenFlag = os.Getenv("LINEWIRED_TOKEN")
			}

			transport, err := buildClientTransport(transportFlag, addrFlag)
			if err != nil {
				return err
			}

			client := rpc.NewClient(rpc.ClientConfig{
				Transport: transport,
				Token:     tokenFlag,
			})
			defer client.Disconnect("done")

			ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
			defer cancel()

			result, err := client.Call(ctx, method, params)
			if err != nil {
				red := color.New(color.FgRed, color.Bold).SprintFunc()
				fmt.Fprintln(os.Stderr, red("ERROR: ")+err.Error())
				os.Exit(1)
			}

			var pretty any
			if err := json.Unmarshal(result, &pretty); err != nil {
				fmt.Println(string(result))
				return nil
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&transportFlag, "transport", "t", "tcp", "Transport to use: tcp, ws, unix or nats")
	cmd.Flags().StringVarP(&addrFlag, "addr", "a", "localhost:7601", "Daemon address (host:port, socket path, or NATS URL)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "Auth token (defaults to LINEWIRED_TOKEN)")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "Call timeout")

	return cmd
}

func buildClientTransport(kind string, addr string) (rpc.ClientTransport, error) {
	switch kind {
	case "tcp":
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return tcp.NewClientTransport(tcp.ClientTransportConfig{Host: host, Port: port, NoDelay: true}), nil
	case "ws":
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return websocket.NewClientTransport(websocket.ClientTransportConfig{Host: host, Port: port}), nil
	case "unix":
		return unix.NewClientTransport(unix.ClientTransportConfig{SocketPath: addr}), nil
	case "nats":
		return nats.NewClientTransport(nats.ClientTransportConfig{URL: addr}), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", kind)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
