// Package mcpclient wraps github.com/modelcontextprotocol/go-sdk's MCP
// client into the single-call shape the Agent Loop's mcp_tool capability
// needs: connect to a remote MCP endpoint, invoke exactly one tool, and
// return its result, instead of hand-rolled JSON-RPC over the wire.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
)

// implementationName/Version identify this client to the remote MCP
// server during the initialize handshake.
const implementationName = "ragbox-backend"

// Result is a tool call's outcome, reduced to what the Agent Loop's
// synthesis call needs inlined into chat history.
type Result struct {
	OK         bool   `json:"ok"`
	Text       string `json:"text"`
	Structured any    `json:"structured,omitempty"`
}

// Client calls tools on remote MCP servers over the Streamable HTTP
// transport, one connection per call: the Agent Loop's mcp_tool steps
// are infrequent enough that a pooled/long-lived session manager (as
// intelligencedev-manifold's internal/mcpclient.Manager keeps for its
// always-on tool registry) would be unwarranted complexity here.
type Client struct {
	httpClient *http.Client
	version    string
}

// NewClient creates a Client using httpClient for the underlying
// Streamable HTTP transport. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, version string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, version: version}
}

// CallTool connects to the MCP server at endpoint, invokes toolName with
// args, and returns its result. The session is closed before returning
// (spec §4.7 step 5: "POST to the referenced MCP endpoint").
func (c *Client) CallTool(ctx context.Context, endpoint, toolName string, args map[string]any) (*Result, error) {
	client := mcppkg.NewClient(&mcppkg.Implementation{Name: implementationName, Version: c.version}, nil)

	transport := &mcppkg.StreamableClientTransport{Endpoint: endpoint, HTTPClient: c.httpClient}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient.CallTool: connect: %w", err)
	}
	defer session.Close()

	if args == nil {
		args = map[string]any{}
	}

	res, err := session.CallTool(ctx, &mcppkg.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcpclient.CallTool: %w", err)
	}

	var texts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcppkg.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return &Result{
		OK:         !res.IsError,
		Text:       strings.Join(texts, "\n"),
		Structured: res.StructuredContent,
	}, nil
}

// MarshalArgs turns a JSON object payload into the map CallTool expects.
func MarshalArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}
