package controllers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolveme/config"
	"evolveme/controllers"
	"evolveme/models"
	"evolveme/routes"
	"evolveme/services"
)

type echoCompletion struct {
	prompts [][]models.ChatMessage
}

func (e *echoCompletion) Complete(_ context.Context, messages []models.ChatMessage) (string, error) {
	e.prompts = append(e.prompts, messages)
	return "echo: " + messages[len(messages)-1].Content, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *services.InMemoryStore, *echoCompletion) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := services.NewInMemoryStore()
	llm := &echoCompletion{}
	retriever := services.NewMemoryRetriever(store, nil)
	assembler := services.NewContextAssembler(retriever, config.DefaultMemoryConfig(), nil)
	chat := services.NewChatService(store, assembler, llm, nil)
	return routes.SetupRouter(controllers.NewChatController(chat), nil), store, llm
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleChat(t *testing.T) {
	r, store, llm := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/chat", `{"user_id":"U1","message":"我喜欢编程"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Reply     string `json:"reply"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo: 我喜欢编程", resp.Reply)
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.Timestamp)
	assert.Len(t, llm.prompts, 1)

	turns, err := store.ListConversations(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	// "content" is accepted as an alias of "message".
	w = doJSON(r, http.MethodPost, "/chat", `{"user_id":"U1","content":"我喜欢编程"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, llm.prompts, 2)
	assert.Len(t, llm.prompts[1], 3, "second identical message recalls the first")
}

func TestHandleChatValidation(t *testing.T) {
	r, _, llm := newTestRouter(t)

	for _, body := range []string{
		`{"message":"no user"}`,
		`{"user_id":"U1","message":"   "}`,
		`{"user_id":"U1"}`,
		`not json`,
	} {
		w := doJSON(r, http.MethodPost, "/chat", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, llm.prompts)
}

func TestGetConversationsAndUpdateFlag(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/chat/conversations", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/chat", `{"user_id":"U1","message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var chatResp struct {
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chatResp))

	w = doJSON(r, http.MethodPost, "/chat/update-flag",
		`{"userId":"U1","timestamp":"`+chatResp.Timestamp+`","isLiked":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/chat/conversations?userId=U1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Conversations, 2)
	assert.Equal(t, models.RoleUser, listResp.Conversations[0].Role)
	require.NotNil(t, listResp.Conversations[1].IsLiked)
	assert.True(t, *listResp.Conversations[1].IsLiked)

	w = doJSON(r, http.MethodPost, "/chat/update-flag", `{"userId":"U1","timestamp":"2001-01-01T00:00:00Z","isLiked":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/chat/update-flag", `{"userId":"U1","timestamp":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodOptions, "/chat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
