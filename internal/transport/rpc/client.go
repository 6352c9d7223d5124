package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/chatline/gateway/internal/domain"
)

// Client calls the gateway RPC endpoint.
type Client struct {
	client *rpc.Client
}

// Dial connects to the gateway RPC endpoint at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway rpc: %w", err)
	}
	return &Client{client: jsonrpc.NewClient(conn)}, nil
}

// PublishMessage hands evt to the gateway for delivery.
func (c *Client) PublishMessage(ctx context.Context, evt domain.MessageEvent) error {
	var resp PublishResponse
	call := c.client.Go(ServiceName+".PublishMessage", &PublishRequest{Event: evt}, &resp, nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		return fmt.Errorf("gateway rpc publish failed: %w", call.Error)
	}
	if !resp.Accepted {
		return fmt.Errorf("gateway rpc publish not accepted")
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}
