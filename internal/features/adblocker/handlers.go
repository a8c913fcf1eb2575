package adblocker

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/httputil"
	"github.com/strct-org/strct-hosts/internal/pipeline"
	"github.com/strct-org/strct-hosts/internal/store"
)

// RegisterRoutes mounts the feature under /api/hosts.
func (a *AdBlocker) RegisterRoutes(r chi.Router) {
	r.Route("/api/hosts", func(r chi.Router) {
		r.Get("/status", a.HandleStatus)
		r.Post("/apply", a.HandleApply)
		r.Post("/cancel", a.HandleCancel)
		r.Post("/revert", a.HandleRevert)

		r.Get("/sources", a.HandleListSources)
		r.Post("/sources", a.HandleAddSource)
		r.Patch("/sources", a.HandleSetSource)
		r.Delete("/sources", a.HandleRemoveSource)

		r.Get("/lists/{list}", a.HandleListEntries)
		r.Post("/lists/{list}", a.HandleAddEntry)
		r.Patch("/lists/{list}/{hostname}", a.HandleSetEntry)
		r.Delete("/lists/{list}/{hostname}", a.HandleRemoveEntry)

		r.Get("/preferences", a.HandleGetPreferences)
		r.Put("/preferences", a.HandleSetPreferences)
	})
}

func (a *AdBlocker) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, a.Status())
}

func (a *AdBlocker) HandleApply(w http.ResponseWriter, r *http.Request) {
	if !a.ApplyAsync() {
		errs.HTTPResponse(w, errs.E(errs.KindConflict, pipeline.ErrBusy, "a run is already in progress"))
		return
	}
	httputil.Accepted(w, map[string]string{"status": "accepted"})
}

func (a *AdBlocker) HandleCancel(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]bool{"cancelled": a.Cancel()})
}

func (a *AdBlocker) HandleRevert(w http.ResponseWriter, r *http.Request) {
	out, err := a.Revert(r.Context(), nil)
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.OK(w, out)
}

func (a *AdBlocker) HandleListSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := a.store.Sources(r.Context())
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	if srcs == nil {
		srcs = []store.Source{}
	}
	httputil.OK(w, map[string]any{"sources": srcs})
}

type sourceRequest struct {
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (a *AdBlocker) HandleAddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	u, err := store.NormalizeSourceURL(req.URL)
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	if err := a.store.AddSource(r.Context(), u); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.Created(w, store.Source{URL: u, Enabled: true})
}

func (a *AdBlocker) HandleSetSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := httputil.Decode(w, r, &req); err != nil || req.Enabled == nil {
		httputil.BadRequest(w, `body must be {"url": "...", "enabled": true|false}`)
		return
	}
	if err := a.store.SetSourceEnabled(r.Context(), req.URL, *req.Enabled); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.NoContent(w)
}

func (a *AdBlocker) HandleRemoveSource(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		httputil.BadRequest(w, "missing url query parameter")
		return
	}
	if err := a.store.RemoveSource(r.Context(), u); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.NoContent(w)
}

func (a *AdBlocker) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	list, err := store.ParseList(chi.URLParam(r, "list"))
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	entries, err := a.store.Entries(r.Context(), list)
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	httputil.OK(w, map[string]any{"list": list, "entries": entries})
}

type entryRequest struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

func (a *AdBlocker) HandleAddEntry(w http.ResponseWriter, r *http.Request) {
	list, err := store.ParseList(chi.URLParam(r, "list"))
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	var req entryRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	entry, err := normalizeEntry(list, req)
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}

	ctx := r.Context()
	switch list {
	case store.ListWhitelist:
		err = a.store.AddWhitelist(ctx, entry.Hostname)
	case store.ListBlacklist:
		err = a.store.AddBlacklist(ctx, entry.Hostname)
	case store.ListRedirection:
		err = a.store.AddRedirection(ctx, entry.Hostname, entry.IP)
	}
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.Created(w, map[string]any{"list": list, "entry": entry})
}

func (a *AdBlocker) HandleSetEntry(w http.ResponseWriter, r *http.Request) {
	list, hostname, ok := entryParams(w, r)
	if !ok {
		return
	}
	var req entryRequest
	if err := httputil.Decode(w, r, &req); err != nil || req.Enabled == nil {
		httputil.BadRequest(w, `body must be {"enabled": true|false}`)
		return
	}
	if err := a.store.SetEntryEnabled(r.Context(), list, hostname, *req.Enabled); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.NoContent(w)
}

func (a *AdBlocker) HandleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	list, hostname, ok := entryParams(w, r)
	if !ok {
		return
	}
	if err := a.store.RemoveEntry(r.Context(), list, hostname); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.NoContent(w)
}

func (a *AdBlocker) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.Preferences(r.Context())
	if err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	httputil.OK(w, p)
}

func (a *AdBlocker) HandleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var p store.Preferences
	if err := httputil.Decode(w, r, &p); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if err := a.store.SetPreferences(r.Context(), p); err != nil {
		errs.HTTPResponse(w, err)
		return
	}
	a.HandleGetPreferences(w, r)
}

// normalizeEntry returns the entry in the form the store keeps it.
func normalizeEntry(list store.List, req entryRequest) (store.Entry, error) {
	host, err := store.NormalizeHostname(req.Hostname)
	if err != nil {
		return store.Entry{}, err
	}
	e := store.Entry{Hostname: host, Enabled: true}
	if list == store.ListRedirection {
		if e.IP, err = store.NormalizeIP(req.IP); err != nil {
			return store.Entry{}, err
		}
	}
	return e, nil
}

func entryParams(w http.ResponseWriter, r *http.Request) (store.List, string, bool) {
	list, err := store.ParseList(chi.URLParam(r, "list"))
	if err != nil {
		errs.HTTPResponse(w, err)
		return "", "", false
	}
	hostname, err := url.PathUnescape(chi.URLParam(r, "hostname"))
	if err != nil {
		httputil.BadRequest(w, "invalid hostname in path")
		return "", "", false
	}
	return list, hostname, true
}
