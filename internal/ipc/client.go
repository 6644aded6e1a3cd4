package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const (
	serviceName = "Finisher"
	dialTimeout = 2 * time.Second
)

// Client is a JSON-RPC connection to the daemon socket. It is safe for
// concurrent use; calls are multiplexed over one connection.
type Client struct {
	rpc *rpc.Client
}

func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

func (c *Client) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

// invoke calls Finisher.<method> and restores service error sentinels.
func invoke[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.rpc.Call(serviceName+"."+method, req, resp); err != nil {
		return nil, ErrorFromKind(err)
	}
	return resp, nil
}

func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	return invoke[EnqueueResponse](c, "Enqueue", req)
}

// EnqueueBatch queues all images under one batch id, or none of them.
func (c *Client) EnqueueBatch(reqs []EnqueueRequest) (*EnqueueBatchResponse, error) {
	return invoke[EnqueueBatchResponse](c, "EnqueueBatch", EnqueueBatchRequest{Jobs: reqs})
}

func (c *Client) Cancel(id string) (*CancelResponse, error) {
	return invoke[CancelResponse](c, "Cancel", CancelRequest{ID: id})
}

// Interrupt stops whatever the server is generating, ours or not.
func (c *Client) Interrupt() (*InterruptResponse, error) {
	return invoke[InterruptResponse](c, "Interrupt", InterruptRequest{})
}

func (c *Client) Status() (*StatusResponse, error) {
	return invoke[StatusResponse](c, "Status", StatusRequest{})
}

// Jobs lists tracked jobs; an empty statuses slice means all of them.
func (c *Client) Jobs(statuses []string) (*JobsResponse, error) {
	return invoke[JobsResponse](c, "Jobs", JobsRequest{Statuses: statuses})
}

func (c *Client) Job(id string) (*JobResponse, error) {
	return invoke[JobResponse](c, "Job", JobRequest{ID: id})
}

func (c *Client) Pause() (*ToggleResponse, error) {
	return invoke[ToggleResponse](c, "Pause", PauseRequest{})
}

func (c *Client) Resume() (*ToggleResponse, error) {
	return invoke[ToggleResponse](c, "Resume", ResumeRequest{})
}

func (c *Client) ClearFinished() (*ClearFinishedResponse, error) {
	return invoke[ClearFinishedResponse](c, "ClearFinished", ClearFinishedRequest{})
}

// Options returns the cached option catalog, querying the server first when
// refresh is set.
func (c *Client) Options(refresh bool) (*OptionsResponse, error) {
	return invoke[OptionsResponse](c, "Options", OptionsRequest{Refresh: refresh})
}

func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	return invoke[EventsResponse](c, "Events", req)
}

func (c *Client) History(req HistoryRequest) (*HistoryResponse, error) {
	return invoke[HistoryResponse](c, "History", req)
}

func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return invoke[LogTailResponse](c, "LogTail", req)
}

func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return invoke[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}

// Stop asks the daemon process to exit. The reply is sent before shutdown.
func (c *Client) Stop() (*StopResponse, error) {
	return invoke[StopResponse](c, "Stop", StopRequest{})
}
