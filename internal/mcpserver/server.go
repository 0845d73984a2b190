// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the tag index to LLM clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/tagservice"
)

const (
	tagFormatURI       = "librarian://tag-format"
	defaultSearchLimit = 20
)

// Server wraps the MCP server with librarian tools.
type Server struct {
	mcp *server.MCPServer
	svc *tagservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *tagservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Librarian",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag in the index with the number of files carrying it, most used first."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("files_for_tag",
		mcp.WithDescription("List the files tagged with the given tag, most recently modified first."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name, with or without the leading #")),
	), s.filesForTag)

	s.mcp.AddTool(mcp.NewTool("search_files",
		mcp.WithDescription("Search file names and tags. Exact name matches rank first, then name substrings, then tag matches."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchFiles)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the full content of an indexed file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the scan root (e.g. folder/file.md)")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("rescan",
		mcp.WithDescription("Bring the index up to date with the files on disk. "+
			"With a path, only that file is rescanned."),
		mcp.WithString("path", mcp.Description("Optional single file to rescan")),
		mcp.WithBoolean("full", mcp.Description("Re-read every file instead of only changed ones")),
	), s.rescan)

	s.mcp.AddTool(mcp.NewTool("get_tag_format",
		mcp.WithDescription("Returns the rules for how tags are recognised in files."),
	), s.getTagFormat)

	s.mcp.AddResource(
		mcp.NewResource(tagFormatURI, "Tag Format",
			mcp.WithResourceDescription("How hashtags and frontmatter tags are recognised."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTagFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.AllTags(ctx))
}

func (s *Server) filesForTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	files := s.svc.FilesForTag(ctx, tag)
	if len(files) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no files tagged #%s", tag)), nil
	}
	return jsonResult(files)
}

func (s *Server) searchFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	return jsonResult(s.svc.Search(ctx, query, limit))
}

func (s *Server) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, err := s.svc.GetFile(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(file.Content), nil
}

func (s *Server) rescan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if path := req.GetString("path", ""); path != "" {
		indexed, err := s.svc.RescanOne(ctx, path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if indexed {
			return mcp.NewToolResultText(fmt.Sprintf("indexed: %s", path)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("not indexed: %s", path)), nil
	}

	res, err := s.svc.RescanAll(ctx, req.GetBool("full", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added %d, updated %d, removed %d, skipped %d",
		res.Added, res.Updated, res.Removed, res.Skipped)), nil
}

func (s *Server) getTagFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TagFormatContract), nil
}

func (s *Server) readTagFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      tagFormatURI,
			MIMEType: "text/markdown",
			Text:     TagFormatContract,
		},
	}, nil
}
