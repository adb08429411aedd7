package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"vending-machine/internal/api"
)

const defaultTimeout = 10 * time.Second

// Send writes one request to the machine at addr and waits for the reply.
// The machine closes the connection after answering.
func Send(ctx context.Context, addr string, req api.Request) (api.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return api.Response{}, fmt.Errorf("encode request: %w", err)
	}
	raw, err := SendRaw(ctx, addr, payload)
	if err != nil {
		return api.Response{}, err
	}
	var resp api.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return api.Response{}, fmt.Errorf("decode response %q: %w", raw, err)
	}
	return resp, nil
}

// SendRaw writes payload as is and returns the raw reply.
func SendRaw(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return nil, fmt.Errorf("write request: %w", err)
		}
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}
