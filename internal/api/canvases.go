package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	"github.com/oxleyk/canvas-agent/internal/auth"
)

func (s *Server) handleCanvasList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	canvases, err := s.canvases.ListByOwner(userID)
	if err != nil {
		s.logger.Error("canvas list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"canvases": canvases,
		"count":    len(canvases),
	}, s.logger)
}

func (s *Server) handleCanvasListPublic(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 0)

	canvases, err := s.canvases.ListPublic(limit)
	if err != nil {
		s.logger.Error("public canvas list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"canvases": canvases,
		"count":    len(canvases),
	}, s.logger)
}

func (s *Server) handleCanvasGet(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	c, err := s.canvases.Get(id, userID)
	if err != nil {
		s.logger.Error("canvas get failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas get failed")
		return
	}
	if c == nil {
		s.errorResponse(w, http.StatusNotFound, "canvas not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, c, s.logger)
}

func (s *Server) handleCanvasVisibility(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	var req struct {
		IsPublic bool `json:"is_public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.canvases.SetVisibility(id, userID, req.IsPublic)
	if err != nil {
		s.logger.Error("canvas visibility update failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "visibility update failed")
		return
	}
	if c == nil {
		s.errorResponse(w, http.StatusNotFound, "canvas not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, c, s.logger)
}

func (s *Server) handleCanvasDelete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	deleted, err := s.canvases.Delete(id, userID)
	if err != nil {
		s.logger.Error("canvas delete failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas delete failed")
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "canvas not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCanvasExport(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	c, err := s.canvases.Get(id, userID)
	if err != nil {
		s.logger.Error("canvas get failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas get failed")
		return
	}
	if c == nil {
		s.errorResponse(w, http.StatusNotFound, "canvas not found")
		return
	}

	md := c.Markdown()

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	switch format {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "canvas-"+shortID(c.ID)+".md"))
		fmt.Fprint(w, md)

	case "html":
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &buf); err != nil {
			s.logger.Error("canvas html render failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "render failed")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())

	default:
		s.errorResponse(w, http.StatusBadRequest, "unsupported format: "+format+" (use markdown or html)")
	}
}

// handleCanvasQR returns a PNG QR code pointing at the public canvas
// URL. Only public canvases have a share link.
func (s *Server) handleCanvasQR(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	c, err := s.canvases.Get(id, userID)
	if err != nil {
		s.logger.Error("canvas get failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "canvas get failed")
		return
	}
	if c == nil {
		s.errorResponse(w, http.StatusNotFound, "canvas not found")
		return
	}
	if !c.IsPublic {
		s.errorResponse(w, http.StatusConflict, "canvas is not public")
		return
	}

	shareURL := fmt.Sprintf("%s/v1/canvases/%s", s.baseURL, c.ID)
	png, err := qrcode.Encode(shareURL, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr encode failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "qr encode failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
