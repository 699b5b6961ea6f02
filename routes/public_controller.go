package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formvault/formvault/httpx"
	"github.com/formvault/formvault/log"
	"github.com/formvault/formvault/routes/middlewares"
)

// PublicGetForm serves the active version of a form, with the requested
// language overlay merged in. Forms with nothing activated are not
// respondent-visible.
func PublicGetForm(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")

		v, err := svc.versions.ResolveActive(r.Context(), formID)
		if err != nil {
			httpx.RenderError(w, r, "public.get_form", err)
			return
		}

		lang := r.URL.Query().Get("lang")
		strict, _ := strconv.ParseBool(r.URL.Query().Get("strict"))
		def, err := svc.translations.Resolve(r.Context(), v.ID, lang, strict)
		if err != nil {
			httpx.RenderError(w, r, "public.get_form.translation", err)
			return
		}

		render.JSON(w, r, def)
	}
}

// PreviewForm runs validation against the active (or an explicit) version
// without persisting anything.
func PreviewForm(svc services) http.HandlerFunc {
	type previewRequest struct {
		VersionID string         `json:"version_id"`
		Answers   map[string]any `json:"answers"`
		IsDraft   bool           `json:"is_draft"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := previewRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		err = svc.responses.Preview(r.Context(), chi.URLParam(r, "id"), req.VersionID, req.Answers, req.IsDraft)
		if err != nil {
			httpx.RenderError(w, r, "public.preview", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"valid": true,
		})
	}
}

// SubmitResponse binds a new response to the resolved version. The draft
// variant skips required-field checks but still records the version binding.
func SubmitResponse(svc services, isDraft bool) http.HandlerFunc {
	type submitRequest struct {
		VersionID string         `json:"version_id"`
		Answers   map[string]any `json:"answers"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := submitRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		resp, err := svc.responses.Submit(r.Context(), chi.URLParam(r, "id"),
			req.VersionID, req.Answers, isDraft, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "public.submit", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":         resp.ID,
			"version_id": resp.VersionID,
			"status":     resp.Status,
		})
	}
}
