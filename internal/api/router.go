package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/notebook"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// notebookRoot is used to resolve attachment directories.
func NewRouter(nb *notebook.Notebook, pages *index.PagesModel, tags *index.TagsModel,
	authEnabled bool, token string, sseHandler http.Handler, notebookRoot string) chi.Router {
	h := NewHandler(nb, pages, tags)
	ah := NewAttachmentHandler(notebookRoot)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages CRUD. The static move route wins over the name wildcards.
	r.Get("/pages", h.ListPages)
	r.Post("/pages", h.CreatePage)
	r.Post("/pages/move", h.MovePage)
	r.Get("/pages/*", h.GetPage)
	r.Put("/pages/*", h.UpdatePage)
	r.Delete("/pages/*", h.DeletePage)

	// Tree queries.
	r.Get("/tree", h.PagesTree)
	r.Get("/tree/resolve", h.ResolvePage)
	r.Get("/tree/tags", h.TagsTree)
	r.Get("/tree/tags/resolve", h.ResolveTagged)

	// Tags.
	r.Get("/tags", h.ListTags)
	r.Get("/tags/{tag}", h.PagesByTag)

	// Links.
	r.Get("/backlinks", h.Backlinks)
	r.Get("/links", h.Links)

	// Plugin views.
	r.Get("/tasks", h.Tasks)
	r.Get("/search", h.Search)

	// Stats.
	r.Get("/stats", h.Stats)

	// Edit sessions.
	r.Post("/sessions", h.OpenSession)
	r.Post("/sessions/save", h.SaveSession)
	r.Get("/sessions/*", h.GetSession)
	r.Put("/sessions/*", h.StageDraft)
	r.Delete("/sessions/*", h.CloseSession)

	// Attachments.
	r.Get("/attachments", ah.ServeFile)
	r.Post("/attachments", ah.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
