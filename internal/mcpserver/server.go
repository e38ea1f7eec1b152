// Package mcpserver exposes the asset pipeline as MCP tools: layer-name
// analysis, document status and on-demand export.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/assetgen/internal/export"
	"github.com/agentic-research/assetgen/internal/reconcile"
	"github.com/agentic-research/assetgen/internal/spec"
)

// Service is the part of the reconcile service the tools drive.
type Service interface {
	Documents() []reconcile.DocumentStatus
	ExportLayer(ctx context.Context, docID, layerID int) (*export.Result, error)
	SetEnabled(id int, on bool) error
}

var _ Service = (*reconcile.Service)(nil)

// Server holds the MCP server and its tool handlers.
type Server struct {
	svc      Service
	analyzer *spec.Analyzer
	mcp      *server.MCPServer
}

// New registers every tool on a fresh MCP server.
func New(svc Service, analyzer *spec.Analyzer, version string) *Server {
	if analyzer == nil {
		analyzer = spec.NewAnalyzer()
	}
	s := &Server{
		svc:      svc,
		analyzer: analyzer,
		mcp:      server.NewMCPServer("assetgen", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("parse_layer_name",
		mcp.WithDescription("Analyze a layer name and return the asset specs it declares, with validation errors per component."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Layer name, e.g. \"200% icon@2x.png, icon.svg\"")),
	), s.parseLayerName)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the open documents with their asset directory and generation state."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("export_layer",
		mcp.WithDescription("Render every asset of one layer now, even if generation is off for its document."),
		mcp.WithNumber("document", mcp.Required(), mcp.Description("Document id")),
		mcp.WithNumber("layer", mcp.Required(), mcp.Description("Layer id")),
	), s.exportLayer)

	s.mcp.AddTool(mcp.NewTool("set_generation",
		mcp.WithDescription("Turn asset generation on or off for a document."),
		mcp.WithNumber("document", mcp.Required(), mcp.Description("Document id")),
		mcp.WithBoolean("enabled", mcp.Required()),
	), s.setGeneration)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves the tools over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type parseOutput struct {
	Name       string           `json:"name"`
	Specs      []spec.AssetSpec `json:"specs"`
	ParseError string           `json:"parseError,omitempty"`
}

func (s *Server) parseLayerName(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	specs, perr := s.analyzer.AnalyzeLayerName(name)
	out := parseOutput{Name: name, Specs: specs}
	if perr != nil {
		out.ParseError = perr.Error()
	}
	if out.Specs == nil {
		out.Specs = []spec.AssetSpec{}
	}
	return jsonResult(out)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Documents())
}

type exportOutput struct {
	Written []string `json:"written"`
	Deleted []string `json:"deleted,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) exportLayer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := req.RequireInt("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	layerID, err := req.RequireInt("layer")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ExportLayer(ctx, docID, layerID)
	if res == nil {
		if err == nil {
			err = errors.New("export produced no result")
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := exportOutput{Written: res.Written, Deleted: res.Deleted}
	if out.Written == nil {
		out.Written = []string{}
	}
	for _, e := range flatten(err) {
		out.Errors = append(out.Errors, e.Error())
	}
	result, jerr := jsonResult(out)
	if jerr != nil {
		return nil, jerr
	}
	result.IsError = len(out.Errors) > 0
	return result, nil
}

func (s *Server) setGeneration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := req.RequireInt("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	on, err := req.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.SetEnabled(docID, on); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for _, d := range s.svc.Documents() {
		if d.ID == docID {
			return jsonResult(d)
		}
	}
	return mcp.NewToolResultText("ok"), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// flatten splits a joined error into its parts.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
