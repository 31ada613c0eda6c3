// Package mcpserver exposes entities to LLM clients over the Model Context
// Protocol. Every call acts as one fixed owner.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/entityservice"
)

// FormatURI names the entity format resource.
const FormatURI = "catatan://entity-format"

// Server wraps an MCP server backed by the entity service.
type Server struct {
	mcp   *server.MCPServer
	svc   *entityservice.Service
	owner string
}

// New creates an MCP server with every entity tool registered.
func New(svc *entityservice.Service, owner string) *Server {
	s := &Server{svc: svc, owner: owner}

	s.mcp = server.NewMCPServer(
		"Catatan",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Full-text search through entity titles and text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchEntities)

	s.mcp.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read one entity with all its fields as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.readEntity)

	s.mcp.AddTool(mcp.NewTool("create_entity",
		mcp.WithDescription("Create an entity of the given kind. "+
			"Read the entity format contract first (get_entity_contract) for the fields of each kind."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Entity kind, e.g. quick-note or web-link")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field values keyed by field name")),
		mcp.WithString("parent_id", mcp.Description("Folder to create the entity in")),
	), s.createEntity)

	s.mcp.AddTool(mcp.NewTool("create_quick_note",
		mcp.WithDescription("Capture a quick note."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("title", mcp.Description("Optional title")),
		mcp.WithString("parent_id", mcp.Description("Folder to file the note in")),
	), s.createQuickNote)

	s.mcp.AddTool(mcp.NewTool("list_entities",
		mcp.WithDescription("List entities, optionally filtered by kind, folder or tag."),
		mcp.WithString("kind", mcp.Description("Entity kind")),
		mcp.WithString("parent_id", mcp.Description("Folder id")),
		mcp.WithString("tag", mcp.Description("Tag")),
	), s.listEntities)

	s.mcp.AddTool(mcp.NewTool("get_entity_contract",
		mcp.WithDescription("Returns the entity format contract: kinds, their fields and how Markdown text is indexed. "+
			"Call this before creating entities."),
	), s.getEntityContract)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Store an image or PDF and get a Markdown snippet referencing it. "+
			"Accepts a base64 data URI or an http(s) URL."),
		mcp.WithString("url", mcp.Required(), mcp.Description("data:<mime>;base64,... or http(s) URL")),
		mcp.WithString("filename", mcp.Description("File name to store under (derived when empty)")),
	), s.uploadAsset)

	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Entity Format Contract",
			mcp.WithResourceDescription("Kinds, fields and Markdown conventions for entities."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for HTTP/SSE transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, s.owner, query, int(req.GetFloat("limit", 20)))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(hits)
}

func (s *Server) readEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.Get(ctx, s.owner, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(e)
}

func (s *Server) createEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, ok := req.GetArguments()["fields"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("fields must be an object"), nil
	}
	return s.create(ctx, draft.Kind(kind), req.GetString("parent_id", ""), fields)
}

func (s *Server) createQuickNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields := draft.Record{"content": content}
	if title := req.GetString("title", ""); title != "" {
		fields["title"] = title
	}
	return s.create(ctx, draft.KindQuickNote, req.GetString("parent_id", ""), fields)
}

func (s *Server) create(ctx context.Context, kind draft.Kind, parentID string, fields draft.Record) (*mcp.CallToolResult, error) {
	e, err := s.svc.Create(ctx, s.owner, entityservice.CreateInput{Kind: kind, ParentID: parentID, Fields: fields})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s %s", e.Kind, e.ID)), nil
}

func (s *Server) listEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.svc.List(ctx, s.owner, entity.ListQuery{
		Kind:     draft.Kind(req.GetString("kind", "")),
		ParentID: req.GetString("parent_id", ""),
		Tag:      req.GetString("tag", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no entities found"), nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", it.ID, it.Kind, it.Title))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getEntityContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(Contract(s.svc.Registry())), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     Contract(s.svc.Registry()),
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}
