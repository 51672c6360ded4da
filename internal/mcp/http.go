package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPPath is where the Streamable HTTP endpoint is mounted.
const MCPPath = "/mcp"

type healthResponse struct {
	Status      string   `json:"status"`
	StoredTools int      `json:"stored_tools"`
	ActiveTools []string `json:"active_tools"`
}

// HTTPHandler serves MCP over Streamable HTTP at MCPPath and a health report at /healthz.
// All sessions share one server, so they also share the active tool set.
func (s *Server) HTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(MCPPath, streamable)
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		StoredTools: s.memory.Len(),
		ActiveTools: s.active.Names(),
	}); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}
