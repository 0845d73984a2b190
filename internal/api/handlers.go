package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/tagservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *tagservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *tagservice.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the file path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fa.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads a JSON body into v and runs its validation.
func decodeBody[T interface{ Validate() error }](w http.ResponseWriter, r *http.Request, v *T) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := (*v).Validate(); err != nil {
		writeError(w, "validate", "", err)
		return false
	}
	return true
}

// ListTags handles GET /api/tags.
//
//	@Summary		List all tags with file counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags := h.svc.AllTags(r.Context())
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags, Total: len(tags)})
}

// FilesForTag handles GET /api/tags/{tag}/files.
//
//	@Summary		List files carrying a tag, newest first
//	@Tags			tags
//	@Produce		json
//	@Param			tag	path		string	true	"Tag name without #"
//	@Success		200	{object}	FileListResponse
//	@Security		BearerAuth
//	@Router			/tags/{tag}/files [get]
func (h *Handler) FilesForTag(w http.ResponseWriter, r *http.Request) {
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil || tag == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tag is required"))
		return
	}
	files := h.svc.FilesForTag(r.Context(), tag)
	writeJSON(w, http.StatusOK, FileListResponse{Files: files, Total: len(files)})
}

// ListFiles handles GET /api/files.
//
//	@Summary		List indexed files, optionally filtered by tag
//	@Tags			files
//	@Produce		json
//	@Param			tag	query		string	false	"Filter by tag"
//	@Success		200	{object}	FileListResponse
//	@Security		BearerAuth
//	@Router			/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	var files []index.FileRecord
	if tag := r.URL.Query().Get("tag"); tag != "" {
		files = h.svc.FilesForTag(r.Context(), tag)
	} else {
		files = h.svc.AllFiles(r.Context())
	}
	writeJSON(w, http.StatusOK, FileListResponse{Files: files, Total: len(files)})
}

// GetFile handles GET /api/files/*.
//
//	@Summary		Get a file's content and tags
//	@Tags			files
//	@Produce		json
//	@Param			path			path		string	true	"File path relative to the scan root"
//	@Param			If-None-Match	header		string	false	"Digest from a previous ETag"
//	@Success		200				{object}	FileDetail
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	file, err := h.svc.GetFile(r.Context(), path)
	if err != nil {
		writeError(w, "get file", path, err)
		return
	}
	etag := `"` + file.Digest + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Trim(match, `"`) == file.Digest {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Search handles GET /api/search.
//
//	@Summary		Search file names and tags
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, SearchResponse{Results: h.svc.Search(r.Context(), q, limit)})
}

// ResolveLink handles GET /api/resolve.
//
//	@Summary		Resolve a wiki link target to a file
//	@Tags			files
//	@Produce		json
//	@Param			target	query		string	true	"Link target"
//	@Param			from	query		string	false	"File containing the link"
//	@Success		200		{object}	PathResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resolve [get]
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'target' is required"))
		return
	}
	path, err := h.svc.ResolveLink(r.Context(), target, q.Get("from"))
	if err != nil {
		writeError(w, "resolve link", target, err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: path})
}

// Status handles GET /api/status.
//
//	@Summary		Index and cache status
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// RescanAll handles POST /api/rescan.
//
//	@Summary		Rescan the whole root
//	@Tags			index
//	@Produce		json
//	@Param			full	query		bool	false	"Re-read every file instead of only changed ones"
//	@Success		200		{object}	RescanResponse
//	@Security		BearerAuth
//	@Router			/rescan [post]
func (h *Handler) RescanAll(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	res, err := h.svc.RescanAll(r.Context(), full)
	if err != nil {
		writeError(w, "rescan", "", err)
		return
	}
	mode := "incremental"
	if full {
		mode = "full"
	}
	writeJSON(w, http.StatusOK, RescanResponse{
		Added:      res.Added,
		Updated:    res.Updated,
		Removed:    res.Removed,
		Skipped:    res.Skipped,
		DurationMS: res.Duration.Milliseconds(),
		Mode:       mode,
	})
}

// RescanFile handles POST /api/rescan/*.
//
//	@Summary		Rescan a single file
//	@Tags			index
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	RescanFileResponse
//	@Security		BearerAuth
//	@Router			/rescan/{path} [post]
func (h *Handler) RescanFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	indexed, err := h.svc.RescanOne(r.Context(), path)
	if err != nil {
		writeError(w, "rescan file", path, err)
		return
	}
	writeJSON(w, http.StatusOK, RescanFileResponse{Path: path, Indexed: indexed})
}

// RemoveFromIndex handles DELETE /api/index/*.
//
//	@Summary		Drop a file from the index without deleting it
//	@Tags			index
//	@Param			path	path	string	true	"File path"
//	@Success		204		"Removed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/{path} [delete]
func (h *Handler) RemoveFromIndex(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.RemoveOne(r.Context(), path); err != nil {
		writeError(w, "remove from index", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rename handles POST /api/rename.
//
//	@Summary		Rename a file in place
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenameRequest	true	"File and new base name"
//	@Success		200		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rename [post]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newPath, err := h.svc.Rename(r.Context(), req.Path, req.NewName)
	if err != nil {
		writeError(w, "rename", req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: newPath})
}

// Move handles POST /api/move.
//
//	@Summary		Move a file into another directory
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveRequest	true	"File and destination directory"
//	@Success		200		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newPath, err := h.svc.Move(r.Context(), req.Path, req.DestDir)
	if err != nil {
		writeError(w, "move", req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: newPath})
}

// DeleteFile handles DELETE /api/files/*.
//
//	@Summary		Delete a file from disk and the index
//	@Tags			files
//	@Param			path	path	string	true	"File path"
//	@Success		204		"File deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [delete]
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Delete(r.Context(), path); err != nil {
		writeError(w, "delete file", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
