// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Canopy tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/notebook"
)

// searchLimit caps the number of results the search tool returns.
const searchLimit = 20

// Server wraps the MCP server with Canopy tools. Tools go through the
// Notebook so every save feeds the index the same way the REST surface
// does.
type Server struct {
	mcp *server.MCPServer
	nb  *notebook.Notebook
}

// New creates a new MCP server with all Canopy tools registered.
func New(nb *notebook.Notebook) *Server {
	s := &Server{nb: nb}

	s.mcp = server.NewMCPServer(
		"Canopy",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Full-text search through page content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read the full content of a page."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full page name (e.g. Projects:Canopy)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("save_page",
		mcp.WithDescription("Create a page or replace the content of an existing one. "+
			"Content MUST follow the canonical page format (optional YAML frontmatter, "+
			"Markdown body with [[links]], @tags and checkbox tasks). Read the contract "+
			"first via the get_page_contract tool or the canopy://page-format resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full page name; missing ancestors become placeholders")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the Canopy page format contract")),
	), s.savePage)

	s.mcp.AddTool(mcp.NewTool("get_page_contract",
		mcp.WithDescription("Returns the canonical Canopy page format contract. "+
			"Call this before creating or updating pages to ensure correct structure."),
	), s.getPageContract)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List the direct children of a page, or the top level of the tree."),
		mcp.WithString("under", mcp.Description("Optional parent page name (empty for the top level)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("page_backlinks",
		mcp.WithDescription("Find all pages that link to the specified page."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full name of the page to find backlinks for")),
	), s.pageBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List all open and completed checkbox tasks across the notebook."),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Download a file from a URL or data URI and attach it to a page. "+
			"Returns a markdownImage field ready to paste into the page body."),
		mcp.WithString("page", mcp.Required(), mcp.Description("Full name of the page the file belongs to")),
		mcp.WithString("url", mcp.Required(), mcp.Description("HTTP(S) URL or base64 data URI of the file")),
		mcp.WithString("filename", mcp.Description("Optional target filename; derived from the URL when empty")),
	), s.attachFile)

	// Resource: page format contract.
	s.mcp.AddResource(
		mcp.NewResource("canopy://page-format", "Page Format Contract",
			mcp.WithResourceDescription("Canonical page format that all pages must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
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

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.nb.Index().Search(query, searchLimit)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return mcp.NewToolResultError("search is not enabled for this notebook"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := notebook.NewPagePath(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.nb.GetPage(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !page.Exists() {
		return mcp.NewToolResultError(fmt.Sprintf("page not found: %s", path.Name)), nil
	}
	return mcp.NewToolResultText(string(page.Content())), nil
}

func (s *Server) savePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := notebook.NewPagePath(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	page := notebook.NewPage(path)
	page.SetContent([]byte(content))
	if err := s.nb.StorePage(page); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", path.Name)), nil
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	under := ""
	if u, err := req.RequireString("under"); err == nil {
		under = u
	}
	if under != "" {
		clean, err := notebook.CleanName(under)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		under = clean
	}

	rows, err := s.nb.Index().Children(under)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("page not found: %s", under)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no pages"), nil
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(row.Name)
		if row.NChildren > 0 {
			fmt.Fprintf(&b, " (%d children)", row.NChildren)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) getPageContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "canopy://page-format",
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}

func (s *Server) pageBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	clean, err := notebook.CleanName(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.nb.Index().Backlinks(clean)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.nb.Index().Tasks()
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return mcp.NewToolResultError("task tracking is not enabled for this notebook"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(tasks, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
