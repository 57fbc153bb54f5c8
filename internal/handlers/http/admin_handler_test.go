package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/middleware"
	"peerlink/internal/infrastructure/repositories/memory"
)

func newTestRouter(tokens services.TokenService, ready func(ctx context.Context) error) (*gin.Engine, *AdminHandler) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))

	handler := NewAdminHandler(memory.NewMemoryRoomRepository(), tokens, ready)
	handler.SetupRoutes(router)
	return router, handler
}

func doRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(nil, nil)
	w := doRequest(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyEndpoint(t *testing.T) {
	router, _ := newTestRouter(nil, func(ctx context.Context) error { return nil })
	w := doRequest(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyEndpointUnavailable(t *testing.T) {
	router, _ := newTestRouter(nil, func(ctx context.Context) error {
		return errors.New("redis down")
	})
	w := doRequest(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIssueTokenGeneratesPeerID(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)
	router, _ := newTestRouter(tokens, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{"room_id": "lobby"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		PeerID string `json:"peer_id"`
		RoomID string `json:"room_id"`
		Token  string `json:"token"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.PeerID, 36)
	assert.Equal(t, "lobby", resp.RoomID)

	subject, err := tokens.ValidateJoinToken(resp.Token)
	assert.NoError(t, err)
	assert.Equal(t, resp.PeerID, string(subject))
}

func TestIssueTokenKeepsProvidedPeerID(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)
	router, _ := newTestRouter(tokens, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{"room_id": "lobby", "peer_id": "alice"}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"peer_id":"alice"`)
}

func TestIssueTokenValidation(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)
	router, _ := newTestRouter(tokens, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{"room_id": "bad room id!"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{"room_id": "lobby", "peer_id": "bad peer!"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueTokenWhenAuthDisabled(t *testing.T) {
	router, _ := newTestRouter(nil, nil)
	w := doRequest(router, http.MethodPost, "/api/v1/tokens",
		map[string]string{"room_id": "lobby"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListRoomsOpenWithoutAuth(t *testing.T) {
	router, handler := newTestRouter(nil, nil)
	_, err := handler.rooms.AddMember(context.Background(), "lobby", "alice")
	assert.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/rooms", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestRoomRoutesRequireTokenWhenAuthEnabled(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)
	router, handler := newTestRouter(tokens, nil)
	_, err := handler.rooms.AddMember(context.Background(), "lobby", "alice")
	assert.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/rooms", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tokens.IssueJoinToken("admin", "lobby")
	assert.NoError(t, err)

	w = doRequest(router, http.MethodGet, "/api/v1/rooms", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRoom(t *testing.T) {
	router, handler := newTestRouter(nil, nil)
	_, err := handler.rooms.AddMember(context.Background(), "lobby", "alice")
	assert.NoError(t, err)
	_, err = handler.rooms.AddMember(context.Background(), "lobby", "bob")
	assert.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/rooms/lobby", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"member_count":2`)
}

func TestGetRoomNotFound(t *testing.T) {
	router, _ := newTestRouter(nil, nil)
	w := doRequest(router, http.MethodGet, "/api/v1/rooms/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
