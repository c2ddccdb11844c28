package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"linedesk/pkg/kv"
	"linedesk/pkg/line"
	"linedesk/pkg/live"
	"linedesk/pkg/logsink"
	"linedesk/pkg/models"
	"linedesk/pkg/signature"
	"linedesk/pkg/store"
	"linedesk/pkg/webhook"
)

const (
	testSecret = "secret"
	testToken  = "+0123456789012345678901234567890123456789012345678901234567890"
)

type env struct {
	h       *Handlers
	handler fasthttp.RequestHandler
	store   *store.Store
	sink    *logsink.Sink
	ing     *webhook.Ingestor
	// status the fake platform answers pushes with
	pushStatus int
	mu         sync.Mutex
	pushes     []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{pushStatus: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.pushes = append(e.pushes, r.URL.Path)
		status := e.pushStatus
		e.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	mem := kv.NewMemory()
	sink, err := logsink.Open(ctx, mem, 100)
	require.NoError(t, err)
	hub := live.NewHub(8)
	st := store.New(mem, store.WithPublisher(hub))
	client := line.New(line.Options{BaseURL: srv.URL, AccessToken: testToken, Recorder: sink})
	ing := webhook.New(webhook.Options{ChannelSecret: testSecret, AutoReplyText: "thanks"}, st, client, sink)
	t.Cleanup(func() { _ = ing.Close(context.Background()) })

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	e.h = &Handlers{
		Store:       st,
		Line:        client,
		Sink:        sink,
		Hub:         hub,
		Ingestor:    ing,
		Credentials: Credentials{AccessToken: testToken, ChannelSecret: testSecret},
		Heartbeat:   time.Minute,
		Stop:        stop,
		now:         func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
	e.handler = e.h.Handler()
	e.store, e.sink, e.ing = st, sink, ing
	return e
}

func (e *env) do(method, path, body string, headers map[string]string) (int, map[string]any) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	if body != "" {
		ctx.Request.SetBodyString(body)
	}
	e.handler(ctx)
	var out map[string]any
	_ = json.Unmarshal(ctx.Response.Body(), &out)
	return ctx.Response.StatusCode(), out
}

func (e *env) webhook(body string) (int, map[string]any) {
	return e.do("POST", "/webhook", body, map[string]string{
		"X-Line-Signature": signature.Sign(testSecret, []byte(body)),
	})
}

const helloDelivery = `{"destination":"Ubot","events":[{"type":"message","timestamp":1,` +
	`"source":{"type":"user","userId":"U1"},"replyToken":"T1",` +
	`"message":{"id":"1","type":"text","text":"hello"}}]}`

func TestWebhookThenOperatorReads(t *testing.T) {
	e := newEnv(t)

	code, body := e.webhook(helloDelivery)
	require.Equal(t, 200, code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 1, body["processed"])
	e.ing.Wait()

	code, body = e.do("GET", "/messages/U1", "", nil)
	require.Equal(t, 200, code)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]any)["message"])

	code, body = e.do("GET", "/customers", "", nil)
	require.Equal(t, 200, code)
	customers := body["customers"].([]any)
	require.Len(t, customers, 1)
	c := customers[0].(map[string]any)
	assert.Equal(t, "U1", c["userId"])
	assert.Equal(t, "hello", c["lastMessage"])
	assert.Equal(t, "pending", c["caseStatus"])
}

func TestWebhookErrors(t *testing.T) {
	e := newEnv(t)

	code, body := e.do("POST", "/webhook", helloDelivery, map[string]string{"X-Line-Signature": "bad"})
	assert.Equal(t, 400, code)
	assert.Equal(t, "Invalid signature", body["error"])

	code, body = e.webhook("")
	assert.Equal(t, 400, code)
	assert.Equal(t, "Empty body", body["error"])

	code, body = e.webhook("{nope")
	assert.Equal(t, 400, code)
	assert.Equal(t, "Invalid JSON", body["error"])

	code, body = e.webhook(`{"events":[]}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, "no events", body["status"])

	_, body = e.do("GET", "/customers", "", nil)
	assert.Empty(t, body["customers"])
}

func TestEmptyCustomersIsArray(t *testing.T) {
	e := newEnv(t)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/customers")
	e.handler(ctx)
	assert.JSONEq(t, `{"customers":[]}`, string(ctx.Response.Body()))
}

func TestSendMessage(t *testing.T) {
	e := newEnv(t)

	code, body := e.do("POST", "/send-message", `{"userId":"U1"}`, nil)
	assert.Equal(t, 400, code)
	assert.Equal(t, "userId and message are required", body["error"])

	code, body = e.do("POST", "/send-message", `{"userId":"U1","message":"on it","adminId":"A1"}`, nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "success", body["status"])
	data := body["messageData"].(map[string]any)
	assert.Equal(t, "แอดมิน", data["userName"])
	assert.Equal(t, false, data["isFromCustomer"])
	assert.Equal(t, "A1", data["adminId"])
	sent := body["lineResponse"].(map[string]any)
	assert.EqualValues(t, 200, sent["statusCode"])

	e.mu.Lock()
	e.pushStatus = http.StatusForbidden
	e.mu.Unlock()
	code, body = e.do("POST", "/send-message", `{"userId":"U1","message":"again"}`, nil)
	assert.Equal(t, 500, code)
	assert.Equal(t, "Failed to send message", body["error"])

	msgs, err := e.store.ListMessages(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "failed pushes are not recorded")
}

func TestCustomerUpdates(t *testing.T) {
	e := newEnv(t)

	code, body := e.do("PUT", "/customer/U404/status", `{"status":"active"}`, nil)
	assert.Equal(t, 404, code)
	assert.Equal(t, "Customer not found", body["error"])

	code, _ = e.do("PUT", "/customer/U404", `{"notes":"x"}`, nil)
	assert.Equal(t, 404, code)

	code, _ = e.webhook(helloDelivery)
	require.Equal(t, 200, code)

	code, body = e.do("PUT", "/customer/U1/status", `{"status":"active","adminId":"A1","adminName":"Nok"}`, nil)
	require.Equal(t, 200, code)
	c := body["customer"].(map[string]any)
	assert.Equal(t, "active", c["caseStatus"])
	assert.Equal(t, "Nok", c["adminName"])
	assert.NotEmpty(t, c["statusUpdatedAt"])

	code, _ = e.do("PUT", "/customer/U1/status", `{}`, nil)
	assert.Equal(t, 400, code)

	code, body = e.do("PUT", "/customer/U1", `{"notes":"vip","version":1}`, nil)
	assert.Equal(t, 409, code, "stale version must be rejected: %v", body)

	code, body = e.do("PUT", "/customer/U1", `{"notes":"vip"}`, nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "vip", body["customer"].(map[string]any)["notes"])

	code, _ = e.do("PUT", "/customer/U1", `[1,2]`, nil)
	assert.Equal(t, 400, code)
}

func TestHealthAndLogs(t *testing.T) {
	e := newEnv(t)

	code, body := e.do("GET", "/health", "", nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["lineConfigured"])
	envBlock := body["environment"].(map[string]any)
	assert.EqualValues(t, len(testToken), envBlock["accessTokenLength"])
	assert.EqualValues(t, len(testSecret), envBlock["secretLength"])
	assert.NotContains(t, string(mustJSON(body)), testToken)

	for i := 0; i < 5; i++ {
		e.sink.Info(context.Background(), "entry", i)
	}
	code, body = e.do("GET", "/logs?limit=3", "", nil)
	require.Equal(t, 200, code)
	assert.EqualValues(t, 3, body["total"])
	logs := body["logs"].([]any)
	assert.Equal(t, "4", logs[0].(map[string]any)["details"])

	code, _ = e.do("GET", "/logs?limit=zero", "", nil)
	assert.Equal(t, 400, code)

	code, body = e.do("GET", "/test?message=ping", "", nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "ping", body["echo"])

	code, body = e.do("GET", "/readyz", "", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "ready", body["status"])

	code, body = e.do("GET", "/healthz", "", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", body["status"])
}

func TestTestLine(t *testing.T) {
	e := newEnv(t)

	code, body := e.do("POST", "/test-line", `{"userId":"U1","message":"hi","testAccessToken":"short"}`, nil)
	assert.Equal(t, 400, code)
	assert.Equal(t, "invalid_token_format", body["status"])

	code, body = e.do("POST", "/test-line", `{"userId":"U1","message":"hi"}`, nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "success", body["status"])

	e.mu.Lock()
	e.pushStatus = http.StatusUnauthorized
	e.mu.Unlock()
	code, body = e.do("POST", "/test-line", `{"userId":"U1","message":"hi"}`, nil)
	assert.Equal(t, 401, code)
	assert.NotEmpty(t, body["help"])
	assert.NotContains(t, string(mustJSON(body)), testToken)
}

func TestEventsStreamHeaders(t *testing.T) {
	e := newEnv(t)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/events")
	e.handler(ctx)

	assert.Equal(t, "text/event-stream", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "no-cache", string(ctx.Response.Header.Peek("Cache-Control")))
	assert.True(t, ctx.Response.IsBodyStream())
	assert.Equal(t, 1, e.h.Hub.Subscribers())
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	code, body := e.do("GET", "/nowhere", "", nil)
	assert.Equal(t, 404, code)
	assert.True(t, strings.Contains(body["error"].(string), "not found"))
}

func mustJSON(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// panickingStore fails ListCustomers with a panic instead of an error.
type panickingStore struct {
	ConversationStore
}

func (panickingStore) ListCustomers(context.Context) ([]models.Customer, error) {
	panic("customer index corrupted")
}

func TestHandlerPanicAnswers500(t *testing.T) {
	e := newEnv(t)
	e.h.Store = panickingStore{ConversationStore: e.store}
	e.handler = e.h.Handler()

	code, body := e.do("GET", "/customers", "", nil)
	require.Equal(t, 500, code)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "customer index corrupted", body["details"])
	assert.Equal(t, "2024-05-01T00:00:00Z", body["timestamp"])

	entries := e.sink.Recent(10)
	require.NotEmpty(t, entries)
	assert.Equal(t, "error", entries[0].Level)
	assert.Equal(t, "Request handler panicked", entries[0].Message)
	assert.Contains(t, entries[0].Details, "customer index corrupted")

	// the process keeps serving
	code, _ = e.do("GET", "/health", "", nil)
	assert.Equal(t, 200, code)
}
