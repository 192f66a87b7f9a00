package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// StartExport asks the daemon to begin an export session.
func (c *Client) StartExport(req StartExportRequest) (*StartExportResponse, error) {
	var resp StartExportResponse
	if err := c.client.Call("Shuttle.StartExport", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelExport cancels a session; an empty id targets the active one.
func (c *Client) CancelExport(id string) (*CancelExportResponse, error) {
	var resp CancelExportResponse
	if err := c.client.Call("Shuttle.CancelExport", CancelExportRequest{SessionID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Shuttle.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionList returns recent export sessions, newest first.
func (c *Client) SessionList(limit int) (*SessionListResponse, error) {
	var resp SessionListResponse
	if err := c.client.Call("Shuttle.SessionList", SessionListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionClear removes terminal sessions from the journal.
func (c *Client) SessionClear() (*SessionClearResponse, error) {
	var resp SessionClearResponse
	if err := c.client.Call("Shuttle.SessionClear", SessionClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionDescribe returns details for a single session.
func (c *Client) SessionDescribe(id string) (*SessionDescribeResponse, error) {
	var resp SessionDescribeResponse
	if err := c.client.Call("Shuttle.SessionDescribe", SessionDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
