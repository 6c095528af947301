package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Public routes
	r.Post("/auth/signup", apiHandler.SignupHandler)
	r.Post("/auth/login", apiHandler.LoginHandler)
	r.Get("/files/{fileID}", apiHandler.GetFileHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// User-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Get("/v1/models", apiHandler.ListModelsHandler)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", apiHandler.ListConversationsHandler)
			r.Post("/", apiHandler.CreateConversationHandler)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Patch("/", apiHandler.UpdateConversationHandler)
				r.Delete("/", apiHandler.DeleteConversationHandler)

				r.Get("/messages", apiHandler.ListMessagesHandler)
				r.Post("/messages", apiHandler.CreateMessageHandler)
				r.Patch("/messages/{messageID}", apiHandler.EditMessageHandler)
				r.Delete("/messages/{messageID}", apiHandler.DeleteMessageHandler)

				r.Post("/reply", apiHandler.ReplyHandler)
			})
		})

		r.Post("/upload/file", apiHandler.UploadFileHandler)
		r.Delete("/files/{fileID}", apiHandler.DeleteFileHandler)
	})

	return r
}
