package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route. Everything except /healthz requires a token.
func NewRouter(h *Handler, ws *WSHandler, auth *Authenticator, log logrus.FieldLogger) http.Handler {
	r := mux.NewRouter()
	r.Use(RequestLogger(log))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(auth.Middleware)

	api.HandleFunc("/quizzes/{quizId}/attempts", h.StartAttempt).Methods(http.MethodPost)
	api.HandleFunc("/quizzes/{quizId}/results", h.LatestResults).Methods(http.MethodGet)
	api.HandleFunc("/quizzes/{quizId}/submissions", h.QuizSubmissions).Methods(http.MethodGet)

	api.HandleFunc("/attempts/{sessionId}", h.ResumeAttempt).Methods(http.MethodGet)
	api.HandleFunc("/attempts/{sessionId}/answers", h.UpsertAnswer).Methods(http.MethodPut)
	api.HandleFunc("/attempts/{sessionId}/submit", h.SubmitAttempt).Methods(http.MethodPost)
	api.HandleFunc("/attempts/{sessionId}/results", h.SessionResults).Methods(http.MethodGet)
	api.HandleFunc("/attempts/{sessionId}/live", ws.ServeWS).Methods(http.MethodGet)

	api.HandleFunc("/reviews/{id}", h.MarkReviewed).Methods(http.MethodPut)
	api.HandleFunc("/submissions", h.ReopenAttempts).Methods(http.MethodDelete)
	api.HandleFunc("/submissions/{id}", h.ReopenAttempt).Methods(http.MethodDelete)
	api.HandleFunc("/me/submissions", h.MySubmissions).Methods(http.MethodGet)
	return r
}
