package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the attempt use cases over REST.
type Handler struct {
	sessions   *app.SessionManager
	reconciler *app.SubmissionReconciler
	log        logrus.FieldLogger
}

func NewHandler(sessions *app.SessionManager, reconciler *app.SubmissionReconciler, log logrus.FieldLogger) *Handler {
	return &Handler{sessions: sessions, reconciler: reconciler, log: log}
}

type upsertAnswerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

type submitRequest struct {
	Answers []app.AnswerInput `json:"answers"`
}

type reopenRequest struct {
	IDs []string `json:"ids"`
}

var errBadBody = &domain.Error{Kind: domain.KindValidation, Msg: "invalid request body"}

func (h *Handler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	res, err := h.sessions.Start(r.Context(), mux.Vars(r)["quizId"], principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ResumeAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	res, err := h.sessions.Resume(r.Context(), mux.Vars(r)["sessionId"], principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UpsertAnswer(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	var req upsertAnswerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.sessions.UpsertAnswer(r.Context(), mux.Vars(r)["sessionId"], principal, req.QuestionID, req.Answer); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.sessions.Submit(r.Context(), mux.Vars(r)["sessionId"], principal, req.Answers)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SessionResults(w http.ResponseWriter, r *http.Request) {
	h.results(w, r, app.ResultsQuery{SessionID: mux.Vars(r)["sessionId"]})
}

func (h *Handler) LatestResults(w http.ResponseWriter, r *http.Request) {
	h.results(w, r, app.ResultsQuery{QuizID: mux.Vars(r)["quizId"]})
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request, query app.ResultsQuery) {
	principal, _ := PrincipalFrom(r.Context())
	res, err := h.sessions.GetResults(r.Context(), query, principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	sub, err := h.reconciler.MarkReviewed(r.Context(), mux.Vars(r)["id"], principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) QuizSubmissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	subs, err := h.reconciler.ListForQuiz(r.Context(), mux.Vars(r)["quizId"], principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) MySubmissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	pending, _ := strconv.ParseBool(r.URL.Query().Get("pending"))
	subs, err := h.reconciler.ListForLearner(r.Context(), principal, pending)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) ReopenAttempt(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if err := h.reconciler.ReopenAttempt(r.Context(), mux.Vars(r)["id"], principal); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReopenAttempts(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	var req reopenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.reconciler.ReopenAttempts(r.Context(), req.IDs, principal); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads an optional JSON body; an empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errBadBody
}
