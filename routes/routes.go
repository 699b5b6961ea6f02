package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formvault/formvault/app"
	"github.com/formvault/formvault/form"
	"github.com/formvault/formvault/response"
	"github.com/formvault/formvault/routes/middlewares"
	"github.com/formvault/formvault/translation"
	"github.com/formvault/formvault/validate"
	"github.com/formvault/formvault/version"
)

type services struct {
	app          app.App
	forms        *form.Store
	versions     *version.Service
	translations *translation.Service
	responses    *response.Service
}

func Wire(app app.App) http.Handler {
	versions := version.NewService(app.DB, app.PublishRetries)
	svc := services{
		app:          app,
		forms:        form.NewStore(app.DB),
		versions:     versions,
		translations: translation.NewService(app.DB, versions),
		responses:    response.NewService(app.DB, versions, validate.NewEngine()),
	}

	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(svc))

	return root
}

func apiRouter(svc services) http.Handler {
	api := chi.NewRouter()

	// respondent-facing routes resolve through the active version pointer
	api.Get("/forms/{id}", PublicGetForm(svc))
	api.Post("/forms/{id}/preview", PreviewForm(svc))
	api.Post("/forms/{id}/responses", SubmitResponse(svc, false))
	api.Post("/forms/{id}/responses/draft", SubmitResponse(svc, true))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(svc.app.TokenSecret))

		// CRUD draft
		r.Post("/forms", CreateForm(svc))
		r.Get("/forms", ListForms(svc))
		r.Get("/forms/{id}", GetForm(svc))
		r.Put("/forms/{id}", UpdateForm(svc))
		r.Delete("/forms/{id}", DeleteForm(svc))
		r.Get("/forms/{id}/history", GetFormHistory(svc))

		// versioning
		r.Post("/forms/{id}/versions", PublishVersion(svc))
		r.Get("/forms/{id}/versions", ListVersions(svc))
		r.Patch("/forms/{id}/activate", ActivateVersion(svc))
		r.Post("/forms/{id}/translations", SetTranslations(svc))

		// responses
		r.Get("/forms/{id}/responses", ListResponses(svc))
		r.Get("/responses/{id}", GetResponse(svc))
		r.Put("/responses/{id}/answers", UpdateResponseAnswers(svc))
		r.Patch("/responses/{id}/status", ChangeResponseStatus(svc))
		r.Post("/responses/{id}/unarchive", UnarchiveResponse(svc))
		r.Get("/responses/{id}/history", GetResponseHistory(svc))
		r.Post("/responses/{id}/restore", RestoreResponse(svc))
	})

	api.Post("/login", Login(svc.app))
	api.Post("/refresh", Refresh(svc.app))

	return api
}
