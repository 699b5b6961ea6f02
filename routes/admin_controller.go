package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/httpx"
	"github.com/formvault/formvault/log"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/routes/middlewares"
	"github.com/formvault/formvault/version"
)

func CreateForm(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft := model.Form{}
		err := render.DecodeJSON(r.Body, &draft)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		created, err := svc.forms.Create(r.Context(), draft, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "form.create", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func ListForms(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forms, err := svc.forms.List(r.Context())
		if err != nil {
			httpx.RenderError(w, r, "form.list", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetForm(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := svc.forms.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.RenderError(w, r, "form.get", err)
			return
		}

		render.JSON(w, r, f)
	}
}

func UpdateForm(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft := model.Form{}
		err := render.DecodeJSON(r.Body, &draft)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		draft.ID = chi.URLParam(r, "id")

		updated, err := svc.forms.Update(r.Context(), draft, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "form.update", err)
			return
		}

		render.JSON(w, r, updated)
	}
}

func DeleteForm(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.forms.Delete(r.Context(), chi.URLParam(r, "id"), middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "form.delete", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormHistory(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")
		if _, err := svc.forms.Get(r.Context(), formID); err != nil {
			httpx.RenderError(w, r, "form.history", err)
			return
		}

		entries, err := audit.FormHistory(r.Context(), svc.app.DB, formID)
		if err != nil {
			httpx.RenderError(w, r, "form.history", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"history": entries,
		})
	}
}

func PublishVersion(svc services) http.HandlerFunc {
	type publishRequest struct {
		Bump     string `json:"bump"`
		Activate bool   `json:"activate"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := publishRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		bump, err := version.ParseBump(req.Bump)
		if err != nil {
			httpx.RenderError(w, r, "version.publish", err)
			return
		}

		v, err := svc.versions.Publish(r.Context(), chi.URLParam(r, "id"), bump, req.Activate, middlewares.Actor(r))
		if err != nil {
			// activation may fail after the snapshot committed; the version is
			// still valid and inspectable, so report it alongside the error
			if v.ID != "" {
				log.Warnf("version.publish: %s created but activation failed: %s", v.ID, err)
			}
			httpx.RenderError(w, r, "version.publish", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"version_id":     v.ID,
			"version_string": v.VersionString,
			"active":         req.Activate,
		})
	}
}

func ListVersions(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")
		if _, err := svc.forms.Get(r.Context(), formID); err != nil {
			httpx.RenderError(w, r, "version.list", err)
			return
		}

		versions, err := svc.versions.List(r.Context(), formID)
		if err != nil {
			httpx.RenderError(w, r, "version.list", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"versions": versions,
		})
	}
}

func ActivateVersion(svc services) http.HandlerFunc {
	type activateRequest struct {
		VersionID string `json:"version_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := activateRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil || req.VersionID == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		err = svc.versions.Activate(r.Context(), chi.URLParam(r, "id"), req.VersionID, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "version.activate", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func SetTranslations(svc services) http.HandlerFunc {
	type translationsRequest struct {
		VersionID    string                   `json:"version_id"`
		LanguageCode string                   `json:"language_code"`
		Overlay      model.TranslationOverlay `json:"overlay"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := translationsRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil || req.VersionID == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		v, err := svc.versions.Get(r.Context(), req.VersionID)
		if err == nil && v.FormID != chi.URLParam(r, "id") {
			httpx.LogNotFound(w, "translation.set", req.VersionID)
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "translation.set", err)
			return
		}

		err = svc.translations.Set(r.Context(), req.VersionID, req.LanguageCode, req.Overlay, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "translation.set", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func ListResponses(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")
		if _, err := svc.forms.Get(r.Context(), formID); err != nil {
			httpx.RenderError(w, r, "response.list", err)
			return
		}

		includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
		responses, err := svc.responses.List(r.Context(), formID, includeArchived)
		if err != nil {
			httpx.RenderError(w, r, "response.list", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"responses": responses,
		})
	}
}

func GetResponse(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.responses.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.RenderError(w, r, "response.get", err)
			return
		}

		render.JSON(w, r, resp)
	}
}

func UpdateResponseAnswers(svc services) http.HandlerFunc {
	type answersRequest struct {
		Answers map[string]any `json:"answers"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := answersRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		resp, err := svc.responses.UpdateAnswers(r.Context(), chi.URLParam(r, "id"), req.Answers, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "response.update_answers", err)
			return
		}

		render.JSON(w, r, resp)
	}
}

func ChangeResponseStatus(svc services) http.HandlerFunc {
	type statusRequest struct {
		Status model.Status `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := statusRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil || req.Status == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		resp, err := svc.responses.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "response.change_status", err)
			return
		}

		render.JSON(w, r, resp)
	}
}

func UnarchiveResponse(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.responses.Unarchive(r.Context(), chi.URLParam(r, "id"), middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "response.unarchive", err)
			return
		}

		render.JSON(w, r, resp)
	}
}

func GetResponseHistory(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.responses.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.RenderError(w, r, "response.history", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"history": entries,
		})
	}
}

func RestoreResponse(svc services) http.HandlerFunc {
	type restoreRequest struct {
		HistoryEntryID string `json:"history_entry_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := restoreRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil || req.HistoryEntryID == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		resp, err := svc.responses.Restore(r.Context(), chi.URLParam(r, "id"), req.HistoryEntryID, middlewares.Actor(r))
		if err != nil {
			httpx.RenderError(w, r, "response.restore", err)
			return
		}

		render.JSON(w, r, resp)
	}
}
