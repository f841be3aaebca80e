package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cyb3rh3ad/auradesk/internal/server/auth"
	"github.com/cyb3rh3ad/auradesk/internal/server/hub"
	"github.com/cyb3rh3ad/auradesk/internal/server/store"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
	"github.com/cyb3rh3ad/auradesk/pkg/logger"
)

func newTestAPI(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authMgr, err := auth.NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	h := hub.New(logger.Nop())
	return New(db, authMgr, h, logger.Nop()).Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signIn(t *testing.T, router *gin.Engine, userID string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/auth", "", map[string]string{
		"userId": userID, "displayName": userID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestAuthIssuesTokenAndSavesProfile(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	token := signIn(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/v1/profiles/lookup", token, map[string][]string{
		"ids": {"alice", "ghost"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Profiles []wire.Profile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Profiles, 1)
	require.Equal(t, "alice", out.Profiles[0].ID)
}

func TestAuthRejectsMissingFields(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	w := doJSON(t, router, http.MethodPost, "/v1/auth", "", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)

	w := doJSON(t, router, http.MethodGet, "/v1/topics/messages:c1/snapshot", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/topics/messages:c1/snapshot", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInsertMessageAndSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	token := signIn(t, router, "alice")

	w := doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", token, map[string]string{
		"content": "hello", "localId": "local-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var insertOut struct {
		Message wire.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insertOut))
	require.NotEmpty(t, insertOut.Message.ID)
	require.Equal(t, "alice", insertOut.Message.SenderID)
	require.Equal(t, "local-1", insertOut.Message.LocalID)

	// A retried send with the same local id returns the same row.
	w = doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", token, map[string]string{
		"content": "hello", "localId": "local-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var retryOut struct {
		Message wire.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &retryOut))
	require.Equal(t, insertOut.Message.ID, retryOut.Message.ID)

	w = doJSON(t, router, http.MethodGet, "/v1/topics/messages:c1/snapshot?limit=10", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapOut struct {
		Messages []wire.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapOut))
	require.Len(t, snapOut.Messages, 1)
	require.Equal(t, "hello", snapOut.Messages[0].Content)
}

func TestSnapshotRejectsBadTopicAndLimit(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	token := signIn(t, router, "alice")

	w := doJSON(t, router, http.MethodGet, "/v1/topics/mail:c1/snapshot", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/topics/messages:c1/snapshot?limit=nope", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotEmptyForEphemeralTopics(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	token := signIn(t, router, "alice")

	w := doJSON(t, router, http.MethodGet, "/v1/topics/typing:c1/snapshot", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Empty(t, out.Messages)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestAPI(t)
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
