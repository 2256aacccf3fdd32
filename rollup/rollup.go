// Package rollup talks to the rollup host's HTTP API: it finishes the
// previous input, receives the next one and posts the outputs it produced.
package rollup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request types
const (
	RequestAdvance = "advance_state"
	RequestInspect = "inspect_state"
)

// Finish statuses
const (
	StatusAccept = "accept"
	StatusReject = "reject"
)

// Metadata describes where an advance input came from.
type Metadata struct {
	MsgSender   common.Address `json:"msg_sender"`
	EpochIndex  uint64         `json:"epoch_index"`
	InputIndex  uint64         `json:"input_index"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   uint64         `json:"timestamp"`
}

// Input is one advance or inspect request. Metadata is nil for inspects.
type Input struct {
	Metadata *Metadata
	Payload  []byte
}

// Voucher is an instruction for the host chain to call Destination with Payload.
type Voucher struct {
	Destination common.Address `json:"destination"`
	Payload     hexutil.Bytes  `json:"payload"`
}

// Output collects everything one input produced.
type Output struct {
	Vouchers []Voucher
	Notices  [][]byte
	Reports  [][]byte
}

// Request is a request received from /finish.
type Request struct {
	Type  string
	Input *Input
}

type requestData struct {
	Metadata *Metadata    `json:"metadata,omitempty"`
	Payload  hexutil.Bytes `json:"payload"`
}

type finishResponse struct {
	RequestType string      `json:"request_type"`
	Data        requestData `json:"data"`
}

type payloadBody struct {
	Payload hexutil.Bytes `json:"payload"`
}

type Config struct {
	URL string
	// Timeout bounds each HTTP call to the host.
	Timeout time.Duration
	// RetryDelay is the pause before retrying after the host was unreachable.
	RetryDelay time.Duration
	// OutputAttempts is how many times each voucher, notice or report of an
	// accepted advance is posted before the loop gives up and halts.
	OutputAttempts int
}

func DefaultConfig() Config {
	return Config{
		URL:            "http://127.0.0.1:5004",
		Timeout:        30 * time.Second,
		RetryDelay:     time.Second,
		OutputAttempts: 5,
	}
}

// Client is an HTTP client for the rollup host.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		url:  strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Finish reports status for the previous input and returns the next request,
// or nil when the host answered 202 because no request is pending.
func (c *Client) Finish(ctx context.Context, status string) (*Request, error) {
	resp, err := c.post(ctx, "/finish", map[string]string{"status": status})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil, nil
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: finish returned %d: %s", czerrors.ErrHostUnavailable, resp.StatusCode, bytes.TrimSpace(body))
	}

	var fr finishResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("%w: decode finish response: %v", czerrors.ErrHostUnavailable, err)
	}
	req := &Request{Type: fr.RequestType, Input: &Input{Payload: fr.Data.Payload}}
	switch fr.RequestType {
	case RequestAdvance:
		if fr.Data.Metadata == nil {
			return nil, fmt.Errorf("%w: advance request without metadata", czerrors.ErrHostUnavailable)
		}
		req.Input.Metadata = fr.Data.Metadata
	case RequestInspect:
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", czerrors.ErrHostUnavailable, fr.RequestType)
	}
	return req, nil
}

func (c *Client) SendVoucher(ctx context.Context, v Voucher) error {
	return c.send(ctx, "/voucher", v)
}

func (c *Client) SendNotice(ctx context.Context, payload []byte) error {
	return c.send(ctx, "/notice", payloadBody{Payload: payload})
}

func (c *Client) SendReport(ctx context.Context, payload []byte) error {
	return c.send(ctx, "/report", payloadBody{Payload: payload})
}

func (c *Client) send(ctx context.Context, path string, body interface{}) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", czerrors.ErrHostUnavailable, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", czerrors.ErrHostUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", czerrors.ErrHostUnavailable, err)
	}
	return resp, nil
}
