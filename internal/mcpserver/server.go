// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the note collection as tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/glm"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/syncer"
)

// Server wraps the MCP server with note tools.
type Server struct {
	mcp  *server.MCPServer
	st   *store.Store
	sync *syncer.Syncer
	idx  index.NoteIndex

	chat            *glm.Client
	knowledgeBaseID string
	chatModel       string
}

// Options carry the optional assistant wiring. A nil Chat client disables
// the ask tool at call time rather than hiding it.
type Options struct {
	Chat            *glm.Client
	KnowledgeBaseID string
	ChatModel       string
}

// New creates a new MCP server with all note tools registered.
func New(st *store.Store, sync *syncer.Syncer, idx index.NoteIndex, opts Options) *Server {
	s := &Server{
		st:              st,
		sync:            sync,
		idx:             idx,
		chat:            opts.Chat,
		knowledgeBaseID: opts.KnowledgeBaseID,
		chatModel:       opts.ChatModel,
	}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes with their ids and titles, newest first."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note by id, including its content and attachment filenames."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id (UUID)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("save_note",
		mcp.WithDescription("Create a note, or update an existing one when an id is given. "+
			"On update, pass an empty string to clear a field; omit it to keep the current value. "+
			"Saving renders a PDF of the note and syncs it to the configured knowledge base."),
		mcp.WithString("id", mcp.Description("Existing note id to update (omit to create)")),
		mcp.WithString("title", mcp.Description("Note title")),
		mcp.WithString("content", mcp.Description("Note body text")),
	), s.saveNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note by id. Removes its PDF, image attachments, and remote document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id (UUID)")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Ask a question about the note collection. The answer is grounded "+
			"in passages retrieved from the synced knowledge base."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question to answer")),
	), s.ask)

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

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type item struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		UpdatedAt string `json:"updatedAt"`
	}
	notes := s.st.LoadAll()
	items := make([]item, 0, len(notes))
	for _, n := range notes {
		items = append(items, item{ID: n.ID, Title: n.Title, UpdatedAt: n.UpdatedAt.String()})
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.st.Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(note, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) saveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, _ := args["id"].(string)
	title, hasTitle := args["title"].(string)
	content, hasContent := args["content"].(string)

	var note models.Note
	if id == "" {
		if title == "" && content == "" {
			return mcp.NewToolResultError("title or content is required"), nil
		}
		note = models.New(title, content)
	} else {
		existing, err := s.st.Get(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		note = existing
		// An argument given as the empty string clears the field; an
		// omitted argument leaves it alone.
		if hasTitle {
			note.Title = title
		}
		if hasContent {
			note.Content = content
		}
		note.Touch()
	}

	if err := s.sync.Save(ctx, note); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", note.ID)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sync.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.idx.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.chat == nil {
		return mcp.NewToolResultError("assistant is not configured"), nil
	}

	msgs := []glm.ChatMessage{}
	if s.knowledgeBaseID != "" {
		chunks, err := s.chat.Retrieve(ctx, glm.RetrieveRequest{
			Query:        question,
			KnowledgeIDs: []string{s.knowledgeBaseID},
			RecallMethod: "mix",
			TopK:         5,
		})
		if err == nil && len(chunks) > 0 {
			var sb strings.Builder
			sb.WriteString("Use the following note excerpts to answer:\n")
			for _, c := range chunks {
				fmt.Fprintf(&sb, "\n- %s\n", c.Text)
			}
			msgs = append(msgs, glm.ChatMessage{Role: "system", Content: sb.String()})
		}
	}
	msgs = append(msgs, glm.ChatMessage{Role: "user", Content: question})

	resp, err := s.chat.ChatCompletion(ctx, glm.ChatRequest{Model: s.chatModel, Messages: msgs})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(resp.Choices) == 0 {
		return mcp.NewToolResultError("no answer from model"), nil
	}
	return mcp.NewToolResultText(resp.Choices[0].Message.Content), nil
}
