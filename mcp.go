package taskwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the watcher tools on an MCP server, so an agent can
// query and drive the watcher over the same surface the HTTP admin offers.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerStatus(srv)
	w.registerCheckNow(srv)
	w.registerReset(srv)
	w.registerRecentLog(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (w *Watcher) registerStatus(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "taskwatch_status",
		Description: "Last check time, last page state, and current positive streak",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	srv.AddTool(tool, func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolJSON(w.Status(ctx))
	})
}

func (w *Watcher) registerCheckNow(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "taskwatch_check_now",
		Description: "Run one check pipeline pass synchronously (renders the page; slow)",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	srv.AddTool(tool, func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolJSON(w.CheckNow(ctx))
	})
}

func (w *Watcher) registerReset(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "taskwatch_reset",
		Description: "Replace the observation record with its zero value and persist it",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	srv.AddTool(tool, func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, err := w.Reset(ctx)
		if err != nil {
			return toolError(err)
		}
		return toolJSON(rec)
	})
}

func (w *Watcher) registerRecentLog(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "taskwatch_recent_checks",
		Description: "Recent check log entries, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 20)"},
		}, nil),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Limit int `json:"limit"`
		}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err))
			}
		}
		if args.Limit <= 0 {
			args.Limit = 20
		}
		entries, err := w.RecentLog(ctx, args.Limit)
		if err != nil {
			return toolError(err)
		}
		return toolJSON(entries)
	})
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(errors.New(err.Error()))
	return &res, nil
}
