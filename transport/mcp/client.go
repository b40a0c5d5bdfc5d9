package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/wsnexus/api"
	"github.com/wricardo/wsnexus/relay/protocol"
	"github.com/wricardo/wsnexus/relay/registry"
)

// Client is a thin MCP client that proxies to the relay's status API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client, e.g. to reach the status
// API without going through the network.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new MCP client that calls the status API at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"wsnexus relay",
		protocol.APIVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`wsnexus relay - MCP Interface

This is a thin client that proxies all requests to the relay's status API.
Peers host sessions and join them over WebSocket; these tools only observe.

AVAILABLE TOOLS:
- server_info: Relay protocol version, number of hosts and open connections
- list_hosts: Public descriptors of every hosting session (optionally by name)
- get_host: One session, including the ids of the clients joined to it`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_info",
		Description: "Get the relay's protocol version, host count, connection count and uptime",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleServerInfo)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_hosts",
		Description: "List the public descriptors of all hosting sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Only list hosts with this name (case-insensitive, optional)",
				},
			},
		},
	}, c.handleListHosts)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_host",
		Description: "Get one hosting session and the ids of its joined clients",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Host id assigned by the relay",
				},
			},
			Required: []string{"id"},
		},
	}, c.handleGetHost)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// get fetches path from the status API and decodes the JSON body into result
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("status api returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func (c *Client) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var info api.InfoResponse
	if err := c.get(ctx, "/api/info", &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatInfo(&info)), nil
}

func (c *Client) handleListHosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/hosts"
	if name, _ := arguments(request)["name"].(string); name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	var hosts api.HostsResponse
	if err := c.get(ctx, path, &hosts); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatHosts(&hosts)), nil
}

func (c *Client) handleGetHost(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// JSON numbers arrive as float64
	raw, ok := arguments(request)["id"].(float64)
	if !ok {
		return mcp.NewToolResultError("id is required and must be a number"), nil
	}

	var info registry.Info
	if err := c.get(ctx, fmt.Sprintf("/api/hosts/%d", int(raw)), &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatHost(&info)), nil
}

func formatInfo(info *api.InfoResponse) string {
	return fmt.Sprintf("%s (protocol %s)\nHosts: %d\nConnections: %d\nUptime: %s",
		info.Name, info.APIVersion, info.Hosts, info.Connections, info.Uptime)
}

func formatHosts(hosts *api.HostsResponse) string {
	if hosts.Count == 0 {
		return "No hosts."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d host(s):\n", hosts.Count)
	for _, h := range hosts.Hosts {
		id, _ := h.ID()
		fmt.Fprintf(&b, "- #%d %q%s\n", id, h.Name(), formatExtra(h))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHost(info *registry.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host #%d %q%s\n", info.ID, info.Name, formatExtra(info.Public))
	if len(info.ClientIDs) == 0 {
		b.WriteString("No clients joined.")
		return b.String()
	}

	ids := make([]string, len(info.ClientIDs))
	for i, id := range info.ClientIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	fmt.Fprintf(&b, "Clients (%d): %s", len(ids), strings.Join(ids, ", "))
	return b.String()
}

// formatExtra renders descriptor fields other than id and name, sorted by key
func formatExtra(f protocol.Fields) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		if k == "id" || k == "name" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v, _ := json.Marshal(f[k])
		parts[i] = fmt.Sprintf("%s=%s", k, v)
	}
	return " [" + strings.Join(parts, " ") + "]"
}
