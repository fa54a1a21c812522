package team

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPWorker bridges a tool on an external MCP server into the team. Each
// Reply invokes the configured tool with the most recent visible message
// as its argument, so execution-capable rosters can be backed by real
// sandboxes exposed over MCP.
type MCPWorker struct {
	name        string
	description string
	execCapable bool
	client      mcpclient.MCPClient
	toolName    string
	argKey      string // Tool argument carrying the instruction. Default "input".
	logger      *slog.Logger

	lastVisible string
	transcript  []string
}

// MCPConfig describes how to reach the MCP server and which tool to call.
type MCPConfig struct {
	Transport string            // "stdio", "sse", or "streamable-http".
	Command   string            // stdio only.
	Args      []string          // stdio only.
	Env       map[string]string // stdio only.
	URL       string            // sse / streamable-http.
	Headers   map[string]string // sse / streamable-http.
	Tool      string            // Tool name on the server.
	ArgKey    string            // Argument key for the instruction. Default "input".
}

// NewMCPWorker connects to the MCP server, performs the initialization
// handshake, and returns a worker bound to one tool. The returned close
// function shuts the client down.
func NewMCPWorker(ctx context.Context, name, description string, execCapable bool, cfg MCPConfig, logger *slog.Logger) (*MCPWorker, func() error, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Tool == "" {
		return nil, nil, fmt.Errorf("mcp worker %s: tool name is required", name)
	}

	c, err := createClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating MCP client for %q: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "kiongozi",
		Version: "0.0.1",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("MCP initialize for %q: %w", name, err)
	}

	argKey := cfg.ArgKey
	if argKey == "" {
		argKey = "input"
	}

	logger.InfoContext(ctx, "MCP worker connected",
		slog.String("worker", name),
		slog.String("transport", cfg.Transport),
		slog.String("tool", cfg.Tool),
	)

	w := &MCPWorker{
		name:        name,
		description: description,
		execCapable: execCapable,
		client:      c,
		toolName:    cfg.Tool,
		argKey:      argKey,
		logger:      logger,
	}
	return w, c.Close, nil
}

func createClient(cfg MCPConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", cfg.Transport)
	}
}

func (w *MCPWorker) Name() string           { return w.name }
func (w *MCPWorker) Description() string    { return w.description }
func (w *MCPWorker) ExecutionCapable() bool { return w.execCapable }

// Reset clears the worker's context. The MCP connection stays open.
func (w *MCPWorker) Reset(_ context.Context) error {
	w.lastVisible = ""
	w.transcript = nil
	return nil
}

// Receive records the message; only visible messages become the pending
// instruction for the next tool call.
func (w *MCPWorker) Receive(_ context.Context, msg string, visible bool) error {
	w.transcript = append(w.transcript, msg)
	if visible {
		w.lastVisible = msg
	}
	return nil
}

// Reply calls the bound MCP tool with the pending instruction and returns
// the flattened tool output.
func (w *MCPWorker) Reply(ctx context.Context) (string, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = w.toolName
	callReq.Params.Arguments = map[string]any{w.argKey: w.lastVisible}

	w.logger.InfoContext(ctx, "mcp worker executing",
		slog.String("worker", w.name),
		slog.String("tool", w.toolName),
	)

	result, err := w.client.CallTool(ctx, callReq)
	if err != nil {
		return "", fmt.Errorf("MCP call to %s/%s failed: %w", w.name, w.toolName, err)
	}

	output := flattenContent(result.Content)
	if result.IsError {
		output = "ERROR: " + output
	}
	w.transcript = append(w.transcript, output)
	return output, nil
}

// flattenContent converts MCP content items to a single string.
func flattenContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		} else {
			data, _ := json.Marshal(c)
			sb.Write(data)
		}
	}
	return sb.String()
}

var _ Worker = (*MCPWorker)(nil)
