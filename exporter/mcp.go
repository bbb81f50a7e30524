package exporter

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docexport/kit"
	"github.com/hazyhaar/docexport/schema"
)

// RegisterMCP registers export tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStartTool(srv)
	e.registerProgressTool(srv)
	e.registerResultsTool(srv)
	e.registerCancelTool(srv)
	e.registerOverrideTool(srv)
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

// --- start ---

type startToolReq struct {
	DocumentID string   `json:"document_id"`
	Formats    []string `json:"formats"`
	PresetID   string   `json:"preset_id,omitempty"`
}

func (e *Engine) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_start",
		Description: "Start an export session for a document in one or more formats (rag, jsonl, corrections, manifest, log). Returns the export ID immediately.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document to export"},
			"formats":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"preset_id":   map[string]any{"type": "string", "description": "Optional configuration preset"},
		}, []string{"document_id", "formats"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*startToolReq)
		formats := make([]schema.Format, 0, len(r.Formats))
		for _, f := range r.Formats {
			parsed, err := schema.ParseFormat(f)
			if err != nil {
				return nil, err
			}
			formats = append(formats, parsed)
		}
		id, err := e.StartExportByID(ctx, r.DocumentID, Request{Formats: formats, PresetID: r.PresetID})
		if err != nil {
			return nil, err
		}
		return map[string]any{"export_id": id}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r startToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- progress ---

type exportIDReq struct {
	ExportID string `json:"export_id"`
}

func decodeExportID(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r exportIDReq
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func (e *Engine) registerProgressTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_progress",
		Description: "Get per-format progress for a running export session.",
		InputSchema: inputSchema(map[string]any{
			"export_id": map[string]any{"type": "string"},
		}, []string{"export_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*exportIDReq)
		snaps, err := e.GetExportProgress(r.ExportID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"export_id": r.ExportID, "progress": snaps}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeExportID)
}

// --- results ---

func (e *Engine) registerResultsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_results",
		Description: "Get settled per-format results for an export session.",
		InputSchema: inputSchema(map[string]any{
			"export_id": map[string]any{"type": "string"},
		}, []string{"export_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*exportIDReq)
		results, err := e.GetExportResults(r.ExportID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"export_id": r.ExportID, "results": results}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeExportID)
}

// --- cancel ---

func (e *Engine) registerCancelTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_cancel",
		Description: "Cancel a running export session. Idempotent.",
		InputSchema: inputSchema(map[string]any{
			"export_id": map[string]any{"type": "string"},
		}, []string{"export_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*exportIDReq)
		return map[string]any{"export_id": r.ExportID, "cancelled": e.CancelExport(r.ExportID)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeExportID)
}

// --- override ---

type overrideToolReq struct {
	ExportID      string `json:"export_id"`
	Format        string `json:"format"`
	Justification string `json:"justification"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

func (e *Engine) registerOverrideTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_override",
		Description: "Request a validation override for one format of an export session. Requires an overridable blocker and a substantial justification.",
		InputSchema: inputSchema(map[string]any{
			"export_id":     map[string]any{"type": "string"},
			"format":        map[string]any{"type": "string"},
			"justification": map[string]any{"type": "string"},
			"requested_by":  map[string]any{"type": "string"},
		}, []string{"export_id", "format", "justification"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*overrideToolReq)
		format, err := schema.ParseFormat(r.Format)
		if err != nil {
			return nil, err
		}
		approved, err := e.RequestValidationOverride(r.ExportID, format, r.Justification, r.RequestedBy)
		if err != nil {
			return nil, err
		}
		return map[string]any{"export_id": r.ExportID, "approved": approved}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r overrideToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
