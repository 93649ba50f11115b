package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"chatflow/signaling/middleware"
	"chatflow/signaling/models"
	"chatflow/signaling/services"
	"chatflow/signaling/utils"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// fakeDirectory satisfies UserFinder without a database.
type fakeDirectory struct {
	users map[string]models.User
}

func (d *fakeDirectory) FindByIDs(_ context.Context, ids []string) ([]models.User, error) {
	found := []models.User{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			found = append(found, u)
		}
	}
	return found, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := utils.NewTextLogger()

	mailbox := services.NewMailbox(30*time.Second, logger)
	presence := services.NewPresenceService(services.NewMemoryPresenceStore(), 60*time.Second, logger)
	dir := &fakeDirectory{users: map[string]models.User{
		"alice": {ID: "alice", Username: "alice", DisplayName: "Alice"},
	}}

	signalHandler := NewSignalHandler(mailbox, logger)
	presenceHandler := NewPresenceHandler(presence, logger)
	usersHandler := NewUsersHandler(dir, logger)

	router := gin.New()
	api := router.Group("/api", middleware.Auth(testSecret))
	api.POST("/signal/send", signalHandler.Send)
	api.GET("/signal/poll", signalHandler.Poll)
	api.POST("/presence/heartbeat", presenceHandler.Heartbeat)
	api.GET("/presence/status", presenceHandler.Status)
	api.POST("/users/batch", usersHandler.Batch)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signal/send", "", []byte(`{"recipient_id":"bob","kind":"offer","payload":{}}`))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSendRejectsUnknownKind(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signal/send", mintToken(t, "alice"),
		[]byte(`{"recipient_id":"bob","kind":"busy","payload":{}}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDepositAndPollRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := mintToken(t, "alice")
	bobToken := mintToken(t, "bob")

	offer := []byte(`{"recipient_id":"bob","kind":"offer","payload":{"call_kind":"voice","sdp":"v=0"}}`)
	if w := doJSON(t, router, http.MethodPost, "/api/signal/send", aliceToken, offer); w.Code != http.StatusOK {
		t.Fatalf("send status = %d, body %s", w.Code, w.Body.String())
	}
	candidate := []byte(`{"recipient_id":"bob","kind":"candidate","payload":{"candidate":{"candidate":"candidate:1 1 udp 2122260223 192.168.1.7 51000 typ host"}}}`)
	if w := doJSON(t, router, http.MethodPost, "/api/signal/send", aliceToken, candidate); w.Code != http.StatusOK {
		t.Fatalf("send status = %d", w.Code)
	}

	// Alice's own mailbox stays empty; the deposits went to bob.
	w := doJSON(t, router, http.MethodGet, "/api/signal/poll", aliceToken, nil)
	var aliceEvents []models.SignalEvent
	if err := json.Unmarshal(w.Body.Bytes(), &aliceEvents); err != nil {
		t.Fatal(err)
	}
	if len(aliceEvents) != 0 {
		t.Fatalf("alice should have no events, got %d", len(aliceEvents))
	}

	w = doJSON(t, router, http.MethodGet, "/api/signal/poll", bobToken, nil)
	var bobEvents []models.SignalEvent
	if err := json.Unmarshal(w.Body.Bytes(), &bobEvents); err != nil {
		t.Fatal(err)
	}
	if len(bobEvents) != 2 {
		t.Fatalf("bob expected 2 events, got %d", len(bobEvents))
	}
	if bobEvents[0].Kind != models.SignalOffer || bobEvents[1].Kind != models.SignalCandidate {
		t.Fatalf("events out of deposit order: %s, %s", bobEvents[0].Kind, bobEvents[1].Kind)
	}
	if bobEvents[0].SenderID != "alice" {
		t.Fatalf("sender = %q, want alice (derived from token, not body)", bobEvents[0].SenderID)
	}

	wantPayload := `{"candidate":{"candidate":"candidate:1 1 udp 2122260223 192.168.1.7 51000 typ host"}}`
	if string(bobEvents[1].Payload) != wantPayload {
		t.Fatalf("candidate payload altered by relay:\n got %s\nwant %s", bobEvents[1].Payload, wantPayload)
	}

	// A second poll is empty.
	w = doJSON(t, router, http.MethodGet, "/api/signal/poll", bobToken, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &bobEvents); err != nil {
		t.Fatal(err)
	}
	if len(bobEvents) != 0 {
		t.Fatalf("mailbox should be empty after drain, got %d", len(bobEvents))
	}
}

func TestHeartbeatAndStatus(t *testing.T) {
	router := newTestRouter(t)
	aliceToken := mintToken(t, "alice")
	bobToken := mintToken(t, "bob")

	if w := doJSON(t, router, http.MethodPost, "/api/presence/heartbeat", aliceToken, nil); w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/presence/status?user_id=alice", bobToken, nil)
	var status models.PresenceStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.IsOnline {
		t.Fatal("alice just heartbeaten, should be online")
	}

	w = doJSON(t, router, http.MethodGet, "/api/presence/status?user_id=bob", aliceToken, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.IsOnline {
		t.Fatal("bob never heartbeaten, should be offline")
	}
}

func TestUsersBatch(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/users/batch", mintToken(t, "bob"),
		[]byte(`{"user_ids":["alice","ghost"]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var users []models.User
	if err := json.Unmarshal(w.Body.Bytes(), &users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "alice" {
		t.Fatalf("expected only alice, got %+v", users)
	}
}
