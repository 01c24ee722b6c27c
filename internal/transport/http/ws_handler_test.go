package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebSocketAttemptFlow(t *testing.T) {
	srv := newTestServer(t, sampleQuiz())

	resp := srv.do(t, &learner, http.MethodPost, "/quizzes/quiz-1/attempts", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decode[struct {
		SessionID string `json:"sessionId"`
	}](t, resp)

	token, err := srv.auth.Issue(learner, time.Hour)
	require.NoError(t, err)
	u := "ws" + srv.URL[len("http"):] + "/attempts/" + started.SessionID + "/live?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Expect the frozen session view first.
	_, payload := readNext(t, conn, "session")
	require.Equal(t, started.SessionID, payload["sessionId"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionId": "q1", "answer": "4"},
	}))
	_, payload = readNext(t, conn, "answerSaved")
	require.Equal(t, "q1", payload["questionId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"answer": "4"}}))
	_, payload = readNext(t, conn, "error")
	require.Equal(t, "validation_error", payload["kind"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "submit"}))
	_, payload = readNext(t, conn, "submitted")
	require.EqualValues(t, 1, payload["score"])
	require.EqualValues(t, 100, payload["percentage"])
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	srv := newTestServer(t, sampleQuiz())

	resp := srv.do(t, &learner, http.MethodPost, "/quizzes/quiz-1/attempts", nil)
	started := decode[struct {
		SessionID string `json:"sessionId"`
	}](t, resp)

	token, err := srv.auth.Issue(instructor, time.Hour)
	require.NoError(t, err)
	u := "ws" + srv.URL[len("http"):] + "/attempts/" + started.SessionID + "/live?token=" + token
	_, wsResp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	require.Equal(t, http.StatusForbidden, wsResp.StatusCode)
}

func readNext(t *testing.T, conn *websocket.Conn, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, expect, msg.Type)
	return msg.Type, msg.Payload
}
