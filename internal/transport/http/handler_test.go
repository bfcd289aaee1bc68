package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/service"
	"github.com/cwrk-planet/chat-relay/internal/sqlite"
	"github.com/cwrk-planet/chat-relay/internal/transport/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv  *httptest.Server
	chat *service.ChatService
	hub  *ws.Hub
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chat := service.NewChatService(store)
	hub := ws.NewHub()
	wsSrv := ws.NewServer(hub, chat, ws.Options{})

	srv := httptest.NewServer(NewRouter(NewHandler(chat, wsSrv, store), wsSrv.HandleWS, opts))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testAPI{srv: srv, chat: chat, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (a *testAPI) dialWS(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws/" + room
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type wsEvent struct {
	Type  string           `json:"type"`
	Items []domain.Message `json:"items"`
	Item  domain.Message   `json:"item"`
}

func readEvent(t *testing.T, c *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var ev wsEvent
	require.NoError(t, json.Unmarshal(data, &ev), string(data))
	return ev
}

type listBody struct {
	Items      []domain.Message `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

func (a *testAPI) seed(t *testing.T, room string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := a.chat.Append(context.Background(), room, "amy", fmt.Sprintf("m%d", i), time.Time{})
		require.NoError(t, err)
	}
}

func TestListMessages_Pagination(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	api.seed(t, "lobby", 5)

	resp, raw := api.do(t, http.MethodGet, "/rooms/lobby/messages?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first listBody
	require.NoError(t, json.Unmarshal(raw, &first))
	require.Len(t, first.Items, 2)
	assert.Equal(t, "m4", first.Items[0].Content)
	assert.Equal(t, "m5", first.Items[1].Content)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, first.Items[0].ID.String(), *first.NextCursor)

	resp, raw = api.do(t, http.MethodGet, "/rooms/lobby/messages?limit=2&before_id="+*first.NextCursor, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second listBody
	require.NoError(t, json.Unmarshal(raw, &second))
	require.Len(t, second.Items, 2)
	assert.Equal(t, "m2", second.Items[0].Content)
	assert.Equal(t, "m3", second.Items[1].Content)
}

func TestListMessages_EmptyRoom(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	resp, raw := api.do(t, http.MethodGet, "/rooms/nowhere/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items":[],"next_cursor":null}`, string(raw))
}

func TestListMessages_DefaultLimit(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	api.seed(t, "lobby", domain.DefaultPageLimit+5)

	_, raw := api.do(t, http.MethodGet, "/rooms/lobby/messages", "")
	var body listBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Len(t, body.Items, domain.DefaultPageLimit)
}

func TestListMessages_BadParams(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	tests := []struct {
		name  string
		query string
		err   string
	}{
		{"limit zero", "limit=0", "invalid_limit"},
		{"limit too big", "limit=101", "invalid_limit"},
		{"limit not a number", "limit=ten", "invalid_limit"},
		{"cursor garbage", "before_id=abc", "invalid_cursor"},
		{"cursor negative", "before_id=-4", "invalid_cursor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := api.do(t, http.MethodGet, "/rooms/lobby/messages?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.err, body.Error)
		})
	}
}

func TestCreateMessage(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	resp, raw := api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"username":"amy","content":"  hi  "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Positive(t, int64(msg.ID))
	assert.Equal(t, "lobby", msg.Room)
	assert.Equal(t, "hi", msg.Content)

	page, err := api.chat.FetchPage(context.Background(), "lobby", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, msg.ID, page.Items[0].ID)
}

func TestCreateMessage_MissingAuthorDetails(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	resp, raw := api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error   string                   `json:"error"`
		Details []domain.ValidationError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "invalid_author", body.Error)
	require.Len(t, body.Details, 1)
	assert.Equal(t, "username", body.Details[0].Field)
	assert.Equal(t, domain.ReasonMissing, body.Details[0].Reason)

	// пустая строка в username присутствует: автор допустим
	resp, _ = api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"username":"","content":"hi"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateMessage_AuthorAlias(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	resp, raw := api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"author":"bob","content":"yo"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "bob", msg.Username)
}

func TestCreateMessage_Rejected(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	tests := []struct {
		name string
		body string
		err  string
	}{
		{"blank content", `{"username":"amy","content":"   "}`, "invalid_content"},
		{"empty content", `{"username":"amy","content":""}`, "invalid_content"},
		{"author too long", `{"username":"`+strings.Repeat("a", domain.MaxAuthorLen+1)+`","content":"hi"}`, "invalid_author"},
		{"not json", `hello`, "invalid_json"},
		{"no author", `{"content":"hi"}`, "invalid_author"},
		{"no content", `{"username":"amy"}`, "invalid_content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := api.do(t, http.MethodPost, "/rooms/lobby/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(raw), tt.err)
		})
	}

	page, err := api.chat.FetchPage(context.Background(), "lobby", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestCreateMessage_BroadcastsToLiveConnections(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	c := api.dialWS(t, "lobby")
	require.Equal(t, "history", readEvent(t, c).Type)
	require.Eventually(t, func() bool { return api.hub.Count("lobby") == 1 }, time.Second, 5*time.Millisecond)

	resp, _ := api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"username":"amy","content":"from rest"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev := readEvent(t, c)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "from rest", ev.Item.Content)

	resp, raw := api.do(t, http.MethodGet, "/rooms/lobby/connections", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"room":"lobby","connections":1}`, string(raw))
}

func TestDeleteMessages(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	api.seed(t, "lobby", 3)
	api.seed(t, "other", 1)

	c := api.dialWS(t, "lobby")
	ev := readEvent(t, c)
	require.Equal(t, "history", ev.Type)
	require.Len(t, ev.Items, 3)
	require.Eventually(t, func() bool { return api.hub.Count("lobby") == 1 }, time.Second, 5*time.Millisecond)

	resp, raw := api.do(t, http.MethodDelete, "/rooms/lobby/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted_count":3}`, string(raw))

	// удаление истории не трогает живые соединения
	assert.Equal(t, 1, api.hub.Count("lobby"))
	resp, _ = api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"username":"amy","content":"after delete"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ev = readEvent(t, c)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "after delete", ev.Item.Content)

	resp, raw = api.do(t, http.MethodDelete, "/rooms/lobby/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted_count":1}`, string(raw))

	_, raw = api.do(t, http.MethodDelete, "/rooms/lobby/messages", "")
	assert.JSONEq(t, `{"deleted_count":0}`, string(raw))
	assert.Equal(t, 1, api.hub.Count("lobby"))

	page, err := api.chat.FetchPage(context.Background(), "other", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestCreateMessage_LimiterApplied(t *testing.T) {
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	api := newTestAPI(t, RouterOptions{CreateLimit: blocked})

	resp, _ := api.do(t, http.MethodPost, "/rooms/lobby/messages", `{"username":"amy","content":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/rooms/lobby/messages", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	resp, raw := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz_StoreDown(t *testing.T) {
	h := NewHandler(nil, nil, downStore{})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type brokenChat struct{}

func (brokenChat) Append(context.Context, string, string, string, time.Time) (domain.Message, error) {
	return domain.Message{}, fmt.Errorf("%w: insert: disk full", domain.ErrStoreUnavailable)
}

func (brokenChat) FetchPage(context.Context, string, int, string) (service.Page, error) {
	return service.Page{}, fmt.Errorf("%w: query: disk full", domain.ErrStoreUnavailable)
}

func (brokenChat) DeleteRoom(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("%w: delete: disk full", domain.ErrStoreUnavailable)
}

func TestHandler_StoreUnavailable(t *testing.T) {
	hub := ws.NewHub()
	wsSrv := ws.NewServer(hub, nil, ws.Options{})
	router := NewRouter(NewHandler(brokenChat{}, wsSrv, downStore{}), wsSrv.HandleWS, RouterOptions{})

	for _, tc := range []struct{ method, body string }{
		{http.MethodGet, ""},
		{http.MethodPost, `{"username":"amy","content":"hi"}`},
		{http.MethodDelete, ""},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, "/rooms/lobby/messages", strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.method)
		assert.NotContains(t, rec.Body.String(), "disk full", tc.method)
	}
}
