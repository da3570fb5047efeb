package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/canopyhq/canopy/internal/apperr"
	"github.com/canopyhq/canopy/internal/checksum"
	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/notebook"
	"github.com/canopyhq/canopy/internal/parser"
)

// Handler holds API route handlers.
type Handler struct {
	nb    *notebook.Notebook
	pages *index.PagesModel
	tags  *index.TagsModel
}

// NewHandler creates a new Handler.
func NewHandler(nb *notebook.Notebook, pages *index.PagesModel, tags *index.TagsModel) *Handler {
	return &Handler{nb: nb, pages: pages, tags: tags}
}

// pageName extracts the page name from the URL (everything after the route
// prefix). Supports encoded colons from generated clients
// (e.g. Projects%3ACanopy).
func pageName(r *http.Request) string {
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

// pagePath validates raw as a page name, answering 400 on bad input. The
// bool result reports whether the caller should continue.
func pagePath(w http.ResponseWriter, raw string) (notebook.PagePath, bool) {
	path, err := notebook.NewPagePath(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid page name"))
		return notebook.PagePath{}, false
	}
	return path, true
}

// pageDetail assembles the full page payload from the file content and the
// index row. A page present in neither is apperr.ErrNotFound; a placeholder
// row without a file still renders, with empty content.
func (h *Handler) pageDetail(path notebook.PagePath) (*PageDetail, error) {
	page, err := h.nb.GetPage(path)
	if err != nil {
		return nil, err
	}
	row, err := h.nb.Index().PageByName(path.Name)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return nil, err
	}
	haveRow := err == nil
	if !page.Exists() && !haveRow {
		return nil, fmt.Errorf("api: page %q: %w", path.Name, apperr.ErrNotFound)
	}

	content := page.Content()
	res, err := parser.Parse(content)
	if err != nil {
		return nil, err
	}
	backlinks, err := h.nb.Index().Backlinks(path.Name)
	if err != nil {
		return nil, err
	}
	links, err := h.nb.Index().LinksFrom(path.Name)
	if err != nil {
		return nil, err
	}

	detail := &PageDetail{
		Name:        path.Name,
		Title:       res.Title,
		Content:     string(content),
		Tags:        nonNilSlice(res.Tags),
		Frontmatter: res.Frontmatter,
		Backlinks:   nonNilSlice(backlinks),
		Links:       nonNilSlice(links),
		HasContent:  page.Exists(),
		UpdatedAt:   time.Now(),
	}
	if page.Exists() {
		detail.Checksum = checksum.Sum(content)
	}
	if haveRow {
		detail.HasContent = row.HasContent
		detail.NChildren = row.NChildren
		detail.UpdatedAt = row.UpdatedAt
	}
	return detail, nil
}

func pageSummary(row index.PageRow) PageSummary {
	return PageSummary{
		Name:       row.Name,
		Basename:   row.Basename,
		Title:      row.Title,
		Checksum:   row.Checksum,
		HasContent: row.HasContent,
		NChildren:  row.NChildren,
		UpdatedAt:  row.UpdatedAt,
	}
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages under a parent
//	@Tags			pages
//	@Produce		json
//	@Param			under	query		string	false	"Parent page name; empty for the top level"
//	@Success		200		{object}	map[string]any
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	under := r.URL.Query().Get("under")
	if under != "" {
		clean, err := notebook.CleanName(under)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid page name"))
			return
		}
		under = clean
	}
	rows, err := h.nb.Index().Children(under)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("list pages failed", slog.String("under", under), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	items := make([]PageSummary, len(rows))
	for i, row := range rows {
		items[i] = pageSummary(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": items,
		"total": len(items),
	})
}

// GetPage handles GET /api/pages/*.
//
//	@Summary		Get a single page by name
//	@Tags			pages
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	raw := pageName(r)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("page name is required"))
		return
	}
	path, ok := pagePath(w, raw)
	if !ok {
		return
	}
	detail, err := h.pageDetail(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create a new page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePageRequest	true	"Page to create"
//	@Success		201		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and content are required"))
		return
	}
	path, ok := pagePath(w, req.Name)
	if !ok {
		return
	}

	exists, err := h.nb.Store().Exists(path.FilePath())
	if err != nil {
		slog.Error("create page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if exists {
		writeJSON(w, http.StatusConflict, errorBody("page already exists"))
		return
	}

	page := notebook.NewPage(path)
	page.SetContent([]byte(req.Content))
	if err := h.nb.StorePage(page); err != nil {
		slog.Error("create page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	detail, err := h.pageDetail(path)
	if err != nil {
		slog.Error("create page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// UpdatePage handles PUT /api/pages/*.
//
//	@Summary		Update a page with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			name		path	string				true	"Page name"
//	@Param			If-Match	header	string				false	"Content checksum for optimistic concurrency"
//	@Param			body		body	UpdatePageRequest	true	"Updated content"
//	@Success		200			{object}	PageDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [put]
func (h *Handler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	raw := pageName(r)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("page name is required"))
		return
	}
	path, ok := pagePath(w, raw)
	if !ok {
		return
	}
	var req UpdatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	page, err := h.nb.GetPage(path)
	if err != nil {
		slog.Error("update page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if !page.Exists() {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	if ifMatch != "" && ifMatch != checksum.Sum(page.Content()) {
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
		return
	}

	page.SetContent([]byte(req.Content))
	if err := h.nb.StorePage(page); err != nil {
		slog.Error("update page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	detail, err := h.pageDetail(path)
	if err != nil {
		slog.Error("update page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeletePage handles DELETE /api/pages/*.
//
//	@Summary		Delete a page, keeping its children
//	@Tags			pages
//	@Param			name	path	string	true	"Page name"
//	@Success		204		"Page deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	raw := pageName(r)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("page name is required"))
		return
	}
	path, ok := pagePath(w, raw)
	if !ok {
		return
	}
	if err := h.nb.DeletePage(path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete page failed", slog.String("page", path.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MovePage handles POST /api/pages/move.
//
//	@Summary		Rename a page together with its subtree
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MovePageRequest	true	"Source and target names"
//	@Success		200		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/move [post]
func (h *Handler) MovePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req MovePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are required"))
		return
	}
	from, ok := pagePath(w, req.From)
	if !ok {
		return
	}
	to, ok := pagePath(w, req.To)
	if !ok {
		return
	}

	if err := h.nb.MovePage(from, to); err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidName):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid move"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("target already exists"))
		default:
			slog.Error("move page failed",
				slog.String("from", from.Name),
				slog.String("to", to.Name),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	detail, err := h.pageDetail(to)
	if err != nil {
		slog.Error("move page failed", slog.String("to", to.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Backlinks handles GET /api/backlinks.
//
//	@Summary		List pages linking to a page
//	@Tags			links
//	@Produce		json
//	@Param			page	query		string	true	"Target page name"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'page' is required"))
		return
	}
	links, err := h.nb.Index().Backlinks(page)
	if err != nil {
		slog.Error("backlinks failed", slog.String("page", page), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page":      page,
		"backlinks": nonNilSlice(links),
	})
}

// Links handles GET /api/links.
//
//	@Summary		List link targets of a page
//	@Tags			links
//	@Produce		json
//	@Param			page	query		string	true	"Source page name"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [get]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'page' is required"))
		return
	}
	links, err := h.nb.Index().LinksFrom(page)
	if err != nil {
		slog.Error("links failed", slog.String("page", page), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page":  page,
		"links": nonNilSlice(links),
	})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List all tags with page counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.nb.Index().Tags()
	if err != nil {
		slog.Error("list tags failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	items := make([]TagItem, len(tags))
	for i, t := range tags {
		items[i] = TagItem{Name: t.Name, NPages: t.NPages}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tags": items,
	})
}

// PagesByTag handles GET /api/tags/{tag}.
//
//	@Summary		List pages carrying a tag
//	@Tags			tags
//	@Produce		json
//	@Param			tag	path		string	true	"Tag name"
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/tags/{tag} [get]
func (h *Handler) PagesByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	rows, err := h.nb.Index().PagesByTag(tag)
	if err != nil {
		slog.Error("pages by tag failed", slog.String("tag", tag), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	items := make([]PageSummary, len(rows))
	for i, row := range rows {
		items[i] = pageSummary(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tag":   tag,
		"pages": items,
	})
}

// Tasks handles GET /api/tasks.
//
//	@Summary		List checkbox tasks across all pages
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.nb.Index().Tasks()
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("tasks indexer not registered"))
		} else {
			slog.Error("tasks failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": nonNilSlice(tasks),
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across pages
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.nb.Index().Search(q, limit)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("search indexer not registered"))
		} else {
			slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": nonNilSlice(results),
	})
}

// Stats handles GET /api/stats.
//
//	@Summary		Index statistics
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	index.Stats
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.nb.Index().Stats()
	if err != nil {
		slog.Error("stats failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
