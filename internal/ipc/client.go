package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func call[T any](c *Client, method string, req any) (*T, error) {
	var resp T
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon process to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Enqueue submits a job through the daemon's queue service.
func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	return call[EnqueueResponse](c, "Enqueue", req)
}

// JobShow returns one job.
func (c *Client) JobShow(jobType, jobID string) (*JobShowResponse, error) {
	return call[JobShowResponse](c, "JobShow", JobShowRequest{JobType: jobType, JobID: jobID})
}

// Counts returns state counts for one type, or all types when jobType is empty.
func (c *Client) Counts(jobType string) (*CountsResponse, error) {
	return call[CountsResponse](c, "Counts", CountsRequest{JobType: jobType})
}

// Pause stops new leases for jobType.
func (c *Client) Pause(jobType string) (*PauseResponse, error) {
	return call[PauseResponse](c, "Pause", PauseRequest{JobType: jobType})
}

// Resume clears the pause flag for jobType.
func (c *Client) Resume(jobType string) (*PauseResponse, error) {
	return call[PauseResponse](c, "Resume", PauseRequest{JobType: jobType})
}

// Clean removes finished jobs older than grace. A nil grace uses the daemon default.
func (c *Client) Clean(jobType string, grace *time.Duration) (*CleanResponse, error) {
	req := CleanRequest{JobType: jobType}
	if grace != nil {
		ms := grace.Milliseconds()
		req.GraceMillis = &ms
	}
	return call[CleanResponse](c, "Clean", req)
}

// DatabaseHealth retrieves detailed job store diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	return call[DatabaseHealthResponse](c, "DatabaseHealth", DatabaseHealthRequest{})
}
