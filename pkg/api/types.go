package api

import (
	"context"
	"time"

	"linedesk/pkg/line"
	"linedesk/pkg/live"
	"linedesk/pkg/models"
	"linedesk/pkg/webhook"
)

// ConversationStore is what the operator endpoints need from the store.
type ConversationStore interface {
	RecordOutbound(ctx context.Context, userID, text, adminID, adminName string) (models.Message, error)
	ListMessages(ctx context.Context, userID string) ([]models.Message, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	UpdateStatus(ctx context.Context, userID, status, adminID, adminName string) (models.Customer, error)
	UpdateCustomer(ctx context.Context, userID string, patch models.Patch) (models.Customer, error)
	Ping(ctx context.Context) error
}

type Dispatcher interface {
	Push(ctx context.Context, userID, text string) (line.Response, error)
	PushWithToken(ctx context.Context, token, userID, text string) (line.Response, error)
}

type LogSink interface {
	Info(ctx context.Context, msg string, details any)
	Warn(ctx context.Context, msg string, details any)
	Error(ctx context.Context, msg string, details any)
	Recent(limit int) []models.LogEntry
}

type WebhookIngestor interface {
	Handle(ctx context.Context, body []byte, sig string) (webhook.Result, error)
}

// Credentials describes the configured platform secrets by presence and
// length only.
type Credentials struct {
	AccessToken   string
	ChannelSecret string
}

// Handlers holds the services every endpoint is served from.
type Handlers struct {
	Store       ConversationStore
	Line        Dispatcher
	Sink        LogSink
	Hub         *live.Hub
	Ingestor    WebhookIngestor
	Credentials Credentials
	Heartbeat   time.Duration
	// Stop ends open event streams when closed.
	Stop <-chan struct{}
	// Context bounds store and dispatch calls; defaults to Background.
	Context context.Context

	now func() time.Time
}

func (h *Handlers) context() context.Context {
	if h.Context != nil {
		return h.Context
	}
	return context.Background()
}

func (h *Handlers) timestamp() string {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

type sendMessageRequest struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	AdminID   string `json:"adminId"`
	AdminName string `json:"adminName"`
}

type statusRequest struct {
	Status    string `json:"status"`
	AdminID   string `json:"adminId"`
	AdminName string `json:"adminName"`
}

type testLineRequest struct {
	UserID          string `json:"userId"`
	Message         string `json:"message"`
	TestAccessToken string `json:"testAccessToken"`
}

type healthEnvironment struct {
	HasAccessToken    bool `json:"hasAccessToken"`
	HasSecret         bool `json:"hasSecret"`
	AccessTokenLength int  `json:"accessTokenLength"`
	SecretLength      int  `json:"secretLength"`
}

type healthServer struct {
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

type healthResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	LineConfigured bool              `json:"lineConfigured"`
	Environment    healthEnvironment `json:"environment"`
	Server         healthServer      `json:"server"`
}
