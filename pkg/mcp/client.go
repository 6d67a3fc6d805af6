// Package mcp implements a Model Context Protocol client over the HTTP
// transport: JSON-RPC 2.0 requests POSTed to a single endpoint, with
// responses arriving either as plain JSON or as a server-sent event frame.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const protocolVersion = "2024-11-05"

var (
	// ErrNotConnected indicates the client has not completed initialization.
	ErrNotConnected = errors.New("client not connected")

	// ErrConnectionFailed indicates the connection to the server failed.
	ErrConnectionFailed = errors.New("connection failed")
)

// ToolDef describes a tool advertised by the server.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is a single content block in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates all text content blocks.
func (r *ToolResult) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Info identifies a client or server.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// JSON-RPC types for MCP communication.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    any    `json:"capabilities"`
	ClientInfo      Info   `json:"clientInfo"`
}

type initResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      Info   `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolDef `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientInfo sets the identity advertised during initialization.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) { c.clientInfo = Info{Name: name, Version: version} }
}

// Client consumes tools from an MCP server over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	clientInfo Info

	mu         sync.RWMutex
	connected  bool
	sessionID  string
	serverInfo *Info

	reqID atomic.Int64
}

// NewClient creates a client for the MCP endpoint at url. Connect must be
// called before listing or calling tools.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		clientInfo: Info{Name: "dbagent", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	params := initParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    struct{}{},
		ClientInfo:      c.clientInfo,
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrConnectionFailed, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize error: %s", ErrConnectionFailed, resp.Error.Message)
	}

	var result initResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("%w: parse initialize result: %v", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.serverInfo = &result.ServerInfo
	c.mu.Unlock()

	// Initialized notification has no ID and expects no response body. The
	// client counts as connected only once the server has acknowledged it.
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("%w: initialized notification: %v", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() *Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ListTools returns the tools advertised by the server, in server order.
func (c *Client) ListTools(ctx context.Context) ([]ToolDef, error) {
	if !c.isConnected() {
		return nil, ErrNotConnected
	}

	resp, err := c.send(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("list tools error: %s", resp.Error.Message)
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse list tools result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes the named tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	if !c.isConnected() {
		return nil, ErrNotConnected
	}

	resp, err := c.send(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("call tool error: %s", resp.Error.Message)
	}

	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse call tool result: %w", err)
	}
	return &result, nil
}

// Close marks the client disconnected. There is no persistent connection to
// tear down with the HTTP transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// send POSTs one JSON-RPC request and decodes the response, which may be a
// plain JSON body or a text/event-stream frame.
func (c *Client) send(ctx context.Context, method string, params any) (*rpcResponse, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("server returned %s: %s", httpResp.Status, bytes.TrimSpace(body))
	}

	var resp rpcResponse
	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		payload, err := readEventData(httpResp.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
	} else {
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &resp, nil
}

// notify POSTs a JSON-RPC notification and discards the response body.
func (c *Client) notify(ctx context.Context, method string) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method}
	httpResp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", httpResp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req rpcRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	c.mu.RLock()
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.mu.RUnlock()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if sid := httpResp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	return httpResp, nil
}

// readEventData returns the data payload of the first SSE event in r.
// Multi-line data fields are joined per the SSE framing rules.
func readEventData(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				return data, nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			rest = strings.TrimPrefix(rest, " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, rest...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("event stream contained no data")
	}
	return data, nil
}
