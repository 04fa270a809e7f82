package upstream

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// maxLoggedResponseChars bounds how much of a raw RPC response is included
// in log lines.
const maxLoggedResponseChars = 1000

// RPCClient is a reference JSON-RPC network client. Transient transport
// failures are retried with exponential backoff before they surface as
// ErrUnavailable.
type RPCClient struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
	maxRetries uint64
}

// RPCClientOption configures an RPCClient.
type RPCClientOption func(*RPCClient)

// WithHTTPClient overrides the default http.Client (timeouts, transport).
func WithHTTPClient(c *http.Client) RPCClientOption {
	return func(r *RPCClient) { r.httpClient = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) RPCClientOption {
	return func(r *RPCClient) { r.logger = l }
}

// WithMaxRetries bounds the number of retry attempts before a transport
// failure becomes fatal.
func WithMaxRetries(n uint64) RPCClientOption {
	return func(r *RPCClient) { r.maxRetries = n }
}

// NewRPCClient builds a client against the given JSON-RPC endpoint URL.
func NewRPCClient(url string, opts ...RPCClientOption) *RPCClient {
	c := &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logrus.StandardLogger(),
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RPCClient) Identifier() string { return c.url }

func (c *RPCClient) Healthy(ctx context.Context) bool {
	_, err := c.call(ctx, "getblockcount", []any{})
	return err == nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs a single JSON-RPC request, retrying transient transport
// failures with exponential backoff before surfacing ErrUnavailable.
func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrProtocol, err)
	}

	var responseBody []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: build request: %v", ErrProtocol, err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.WithError(err).Warn("upstream rpc transport failure, retrying")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	c.logger.WithField("method", method).Debug(truncateForLog(string(responseBody)))

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%w: rpc error %d: %s", ErrProtocol, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func truncateForLog(s string) string {
	if len(s) <= maxLoggedResponseChars {
		return s
	}
	return fmt.Sprintf("%s... [truncated, total length: %d chars]", s[:maxLoggedResponseChars], len(s))
}

func (c *RPCClient) TipHeight(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, "getblockcount", []any{})
	if err != nil {
		return 0, err
	}
	var heightStr string
	if err := json.Unmarshal(result, &heightStr); err == nil {
		n, err := strconv.ParseUint(heightStr, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid tip height %q", ErrProtocol, heightStr)
		}
		return uint32(n), nil
	}
	var heightNum uint64
	if err := json.Unmarshal(result, &heightNum); err != nil {
		return 0, fmt.Errorf("%w: invalid tip height payload", ErrProtocol)
	}
	return uint32(heightNum), nil
}

// ActualBlockCount calls a second RPC method distinct from TipHeight: the
// tip height can outrun what the upstream physically holds, so the two are
// retained as separate probes rather than collapsed into one.
func (c *RPCClient) ActualBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, "getactualblockcount", []any{})
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, fmt.Errorf("%w: invalid block count payload", ErrProtocol)
	}
	return uint32(n), nil
}

func (c *RPCClient) BlockHash(ctx context.Context, height uint32) ([]byte, error) {
	result, err := c.call(ctx, "getblockhash", []any{height})
	if err != nil {
		return nil, err
	}
	var hashHex string
	if err := json.Unmarshal(result, &hashHex); err != nil {
		return nil, fmt.Errorf("%w: invalid block hash payload", ErrProtocol)
	}
	if hashHex == "" {
		return nil, fmt.Errorf("rpc client: %w", &NotFoundError{Height: height})
	}
	trimmed := strings.TrimPrefix(hashHex, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed block hash %q", ErrProtocol, hashHex)
	}
	return raw, nil
}

func (c *RPCClient) CallView(ctx context.Context, name string, params []byte, atHeight *uint32) ([]byte, error) {
	at := "latest"
	if atHeight != nil {
		at = strconv.FormatUint(uint64(*atHeight), 10)
	}
	result, err := c.call(ctx, "metashrew_view", []any{name, hex.EncodeToString(params), at})
	if err != nil {
		return nil, err
	}
	var resultHex string
	if err := json.Unmarshal(result, &resultHex); err != nil {
		return nil, fmt.Errorf("%w: invalid view result payload", ErrProtocol)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(resultHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed view result %q", ErrProtocol, resultHex)
	}
	return raw, nil
}
