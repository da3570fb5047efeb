package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/models"
)

// treeNodes resolves the children of base by probing positions until the
// model reports a miss.
func treeNodes(m index.TreeModel, base index.LookupPath) ([]models.TreeNode, error) {
	var nodes []models.TreeNode
	for i := 0; ; i++ {
		p := make(index.LookupPath, len(base)+1)
		copy(p, base)
		p[len(base)] = i
		iter, err := m.IterAt(p)
		if err != nil {
			return nil, err
		}
		if iter == nil {
			return nodes, nil
		}
		nodes = append(nodes, nodeFromIter(iter))
	}
}

func nodeFromIter(iter *index.TreeIter) models.TreeNode {
	node := models.TreeNode{LookupPath: iter.Path}
	switch {
	case iter.Page != nil:
		node.Name = iter.Page.Name
		node.Basename = iter.Page.Basename
		node.Title = iter.Page.Title
		node.HasContent = iter.Page.HasContent
		node.NChildren = iter.Page.NChildren
	case iter.Tag != nil:
		node.Name = iter.Tag.Name
		node.Basename = iter.Tag.Name
		node.NChildren = iter.Tag.NPages
	}
	return node
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request, m index.TreeModel) {
	base, err := index.ParseLookupPath(r.URL.Query().Get("path"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid lookup path"))
		return
	}
	if len(base) > 0 {
		iter, err := m.IterAt(base)
		if err != nil {
			slog.Error("tree lookup failed", slog.String("path", base.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		if iter == nil {
			writeJSON(w, http.StatusNotFound, errorBody("no node at path"))
			return
		}
	}
	nodes, err := treeNodes(m, base)
	if err != nil {
		slog.Error("tree walk failed", slog.String("path", base.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{Path: base.String(), Nodes: nonNilSlice(nodes)})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, m index.TreeModel, param string) {
	name := r.URL.Query().Get(param)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter '"+param+"' is required"))
		return
	}
	paths, err := m.FindAll(name)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("resolve failed", slog.String("name", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Name: name, Paths: out})
}

// PagesTree handles GET /api/tree.
//
//	@Summary		One level of the page tree
//	@Tags			tree
//	@Produce		json
//	@Param			path	query		string	false	"Lookup path of the parent node; empty for the top level"
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) PagesTree(w http.ResponseWriter, r *http.Request) {
	h.tree(w, r, h.pages)
}

// TagsTree handles GET /api/tree/tags.
//
//	@Summary		One level of the tag cloud tree
//	@Tags			tree
//	@Produce		json
//	@Param			path	query		string	false	"Lookup path of the parent node; empty for the tag level"
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/tags [get]
func (h *Handler) TagsTree(w http.ResponseWriter, r *http.Request) {
	h.tree(w, r, h.tags)
}

// ResolvePage handles GET /api/tree/resolve.
//
//	@Summary		Resolve a page name to its position in the page tree
//	@Tags			tree
//	@Produce		json
//	@Param			name	query		string	true	"Page name"
//	@Success		200		{object}	ResolveResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/resolve [get]
func (h *Handler) ResolvePage(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.pages, "name")
}

// ResolveTagged handles GET /api/tree/tags/resolve.
//
//	@Summary		Resolve a page to its positions in the tag cloud tree
//	@Tags			tree
//	@Produce		json
//	@Param			page	query		string	true	"Page name"
//	@Success		200		{object}	ResolveResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree/tags/resolve [get]
func (h *Handler) ResolveTagged(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.tags, "page")
}
