package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// WSHandler runs a live attempt over a websocket: the client streams answers
// and finally submits, receiving an acknowledgement for each message.
type WSHandler struct {
	sessions *app.SessionManager
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions *app.SessionManager, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

type submitPayload struct {
	Answers []app.AnswerInput `json:"answers"`
}

type answerSaved struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type wsError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: wsError{Kind: string(domain.KindOf(err)), Message: err.Error()}}
}

// ServeWS upgrades the request and drives the caller's attempt until it is
// submitted or the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID := mux.Vars(r)["sessionId"]

	// Reject before upgrading so plain HTTP clients get a status code.
	state, err := h.sessions.Resume(r.Context(), sessionID, principal)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "learner_id": principal.ID})
	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Warn("ws write error")
				_ = conn.Close()
				for range send {
				}
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "session", Payload: state}

	for done := false; !done; {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: wsError{Kind: string(domain.KindValidation), Message: "invalid answer payload"}}
				continue
			}
			if err := h.sessions.UpsertAnswer(r.Context(), sessionID, principal, payload.QuestionID, payload.Answer); err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "answerSaved", Payload: answerSaved{QuestionID: payload.QuestionID}}
		case "submit":
			var payload submitPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					send <- outboundMessage[any]{Type: "error", Payload: wsError{Kind: string(domain.KindValidation), Message: "invalid submit payload"}}
					continue
				}
			}
			res, err := h.sessions.Submit(r.Context(), sessionID, principal, payload.Answers)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "submitted", Payload: res}
			done = true
		default:
			send <- outboundMessage[any]{Type: "error", Payload: wsError{Message: "unsupported message type"}}
		}
	}

	close(send)
	<-writerDone
}
