package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/chatline/internal/config"
	"github.com/comigor/chatline/internal/logger"
)

// Tool names exposed by a chat MCP server.
const (
	ToolSendMessage   = "send_message"
	ToolLoadHistory   = "load_history"
	ToolRevokeMessage = "revoke_message"
	ToolDeleteMessage = "delete_message"
)

// ToolCaller is the subset of the mcp-go client used by MCP; it is easy to mock in tests.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCP implements Transport by calling chat tools on an MCP server.
type MCP struct {
	client ToolCaller
	close  func() error
	log    *slog.Logger
}

// NewMCP wraps an already initialized tool caller.
func NewMCP(c ToolCaller) *MCP {
	return &MCP{client: c, log: logger.For("transport.mcp")}
}

// DialMCP creates, starts and initializes an MCP client for the configured server.
func DialMCP(ctx context.Context, serverCfg config.MCPServerConfig) (*MCP, error) {
	log := logger.For("transport.mcp").With("name", serverCfg.Name)

	var mcpC *client.Client
	var err error
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []mcptransport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, mcptransport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []mcptransport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, mcptransport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q (want sse, streamable_http or stdio)", serverCfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create MCP client %s: %w", serverCfg.Name, err)
	}

	// stdio clients start their transport on creation
	if serverCfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			if cerr := mcpC.Close(); cerr != nil {
				log.Warn("MCP client close error after start failure", "error", cerr)
			}
			return nil, fmt.Errorf("start MCP client %s: %w", serverCfg.Name, err)
		}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "chatline", Version: "0.1.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpC.Initialize(ctx, initReq); err != nil {
		if cerr := mcpC.Close(); cerr != nil {
			log.Warn("MCP client close error after init failure", "error", cerr)
		}
		return nil, fmt.Errorf("initialize MCP client %s: %w", serverCfg.Name, err)
	}
	log.Info("MCP chat server initialized")

	t := NewMCP(mcpC)
	t.close = mcpC.Close
	t.log = log
	return t, nil
}

// Close shuts the underlying client down when DialMCP created it.
func (t *MCP) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

func (t *MCP) Send(ctx context.Context, id, content string) error {
	_, err := t.call(ctx, ToolSendMessage, map[string]any{"message_id": id, "content": content})
	return err
}

func (t *MCP) FetchHistory(ctx context.Context, before int64, pageSize int) (Page, error) {
	out, err := t.call(ctx, ToolLoadHistory, map[string]any{
		"before_timestamp": before,
		"page_size":        pageSize,
	})
	if err != nil {
		return Page{}, err
	}
	var page Page
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		return Page{}, &RemoteError{Op: ToolLoadHistory, Reason: "malformed page: " + err.Error()}
	}
	return page, nil
}

func (t *MCP) Revoke(ctx context.Context, id string) error {
	_, err := t.call(ctx, ToolRevokeMessage, map[string]any{"message_id": id})
	return err
}

func (t *MCP) Delete(ctx context.Context, id string) error {
	_, err := t.call(ctx, ToolDeleteMessage, map[string]any{"message_id": id})
	return err
}

// call invokes a tool and returns its first text content. Results flagged
// IsError become RemoteErrors carrying the server's text, which may include
// NetworkLostMarker.
func (t *MCP) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	t.log.Debug("calling chat tool", "tool", tool, "arguments", args)
	res, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		t.log.Warn("MCP CallTool failed", "tool", tool, "error", err)
		return "", fmt.Errorf("call %s: %w", tool, err)
	}
	if res == nil {
		return "", &RemoteError{Op: tool, Reason: "empty result"}
	}

	text := firstText(res)
	if res.IsError {
		if text == "" {
			text = "tool execution resulted in an error without specific text"
		}
		return "", &RemoteError{Op: tool, Reason: text}
	}
	return text, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, contentItem := range res.Content {
		if textContent, ok := contentItem.(mcp.TextContent); ok {
			return textContent.Text
		}
	}
	return ""
}
