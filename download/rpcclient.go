package download

import (
	"github.com/cenkalti/piecemeal/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// Client queries the RPC server of a running Download.
type Client struct {
	client *jsonrpc2.Client
}

// NewClient returns a Client that sends requests to url, such as "http://127.0.0.1:7246".
func NewClient(url string) *Client {
	return &Client{client: jsonrpc2.NewHTTPClient(url)}
}

// Close the client.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetStats returns the statistics of the download.
func (c *Client) GetStats() (*rpctypes.Stats, error) {
	var reply rpctypes.GetStatsResponse
	err := c.client.Call("Download.GetStats", &rpctypes.GetStatsRequest{}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply.Stats, nil
}

// GetBitfield returns the completion bitfield of the download in hex.
func (c *Client) GetBitfield() (*rpctypes.GetBitfieldResponse, error) {
	var reply rpctypes.GetBitfieldResponse
	err := c.client.Call("Download.GetBitfield", &rpctypes.GetBitfieldRequest{}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}
