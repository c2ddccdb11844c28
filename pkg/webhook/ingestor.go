// Package webhook turns signed LINE webhook deliveries into stored
// conversation state and schedules the acknowledgement reply.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"linedesk/pkg/line"
	"linedesk/pkg/logger"
	"linedesk/pkg/models"
	"linedesk/pkg/signature"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrEmptyBody        = errors.New("empty body")
	ErrMalformedBody    = errors.New("malformed body")
	ErrClosed           = errors.New("ingestor closed")
)

const (
	StatusSuccess  = "success"
	StatusNoEvents = "no events"

	defaultIngestTimeout = 15 * time.Second
	defaultReplyTimeout  = 10 * time.Second
)

// Recorder is the diagnostic log; *logsink.Sink satisfies it.
type Recorder interface {
	Info(ctx context.Context, msg string, details any)
	Warn(ctx context.Context, msg string, details any)
	Error(ctx context.Context, msg string, details any)
}

// Conversations is the slice of the store ingestion writes to.
type Conversations interface {
	RecordInbound(ctx context.Context, userID, text string) (models.Message, error)
}

type Replier interface {
	Reply(ctx context.Context, replyToken, text string) (line.Response, error)
}

type Options struct {
	ChannelSecret string
	AutoReplyText string
	IngestTimeout time.Duration
	ReplyTimeout  time.Duration
}

// Result is the acknowledgement returned to the platform.
type Result struct {
	Status    string `json:"status"`
	Processed int    `json:"processed,omitempty"`

	Handled  int `json:"-"`
	Skipped  int `json:"-"`
	Rejected int `json:"-"`
}

type Ingestor struct {
	secret        string
	autoReply     string
	ingestTimeout time.Duration
	replyTimeout  time.Duration

	store   Conversations
	replier Replier
	log     Recorder

	base   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options, store Conversations, replier Replier, log Recorder) *Ingestor {
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = defaultIngestTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	if opts.ChannelSecret == "" {
		logger.Warn("webhook_secret_missing", "effect", "every delivery will be rejected")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		secret:        opts.ChannelSecret,
		autoReply:     opts.AutoReplyText,
		ingestTimeout: opts.IngestTimeout,
		replyTimeout:  opts.ReplyTimeout,
		store:         store,
		replier:       replier,
		log:           log,
		base:          base,
		cancel:        cancel,
	}
}

// Handle verifies and ingests one delivery. Errors other than
// ErrInvalidSignature, ErrEmptyBody and ErrMalformedBody mean the delivery
// should be retried by the platform.
func (in *Ingestor) Handle(ctx context.Context, body []byte, sig string) (Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, in.ingestTimeout)
	defer cancel()

	in.log.Info(ctx, "Webhook received", map[string]any{
		"bodyLength":   len(body),
		"hasSignature": sig != "",
	})

	if !signature.Verify(in.secret, body, sig) {
		in.log.Error(ctx, "Invalid webhook signature", map[string]any{"secretConfigured": in.secret != ""})
		deliveries.WithLabelValues("rejected").Inc()
		return Result{}, ErrInvalidSignature
	}
	if len(body) == 0 {
		in.log.Error(ctx, "Empty webhook body received", nil)
		deliveries.WithLabelValues("malformed").Inc()
		return Result{}, ErrEmptyBody
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		in.log.Error(ctx, "Webhook body is not valid JSON", err)
		deliveries.WithLabelValues("malformed").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if len(env.Events) == 0 {
		in.log.Warn(ctx, "No events in webhook data", nil)
		deliveries.WithLabelValues("empty").Inc()
		return Result{Status: StatusNoEvents}, nil
	}

	res := Result{Status: StatusSuccess, Processed: len(env.Events)}
	for i, raw := range env.Events {
		ev, err := decodeEvent(raw)
		if err != nil {
			res.Rejected++
			eventsTotal.WithLabelValues("invalid", "rejected").Inc()
			in.log.Warn(ctx, "Webhook event rejected", map[string]any{"index": i, "error": err.Error()})
			continue
		}
		handled, err := in.dispatch(ctx, ev)
		if err != nil {
			in.log.Error(ctx, "Webhook processing failed", map[string]any{"index": i, "error": err.Error()})
			deliveries.WithLabelValues("failed").Inc()
			return res, err
		}
		if handled {
			res.Handled++
		} else {
			res.Skipped++
		}
	}

	deliveries.WithLabelValues("accepted").Inc()
	ingestDuration.Observe(time.Since(start).Seconds())
	in.log.Info(ctx, fmt.Sprintf("Webhook processed successfully. Events: %d", res.Processed), map[string]any{
		"handled":  res.Handled,
		"skipped":  res.Skipped,
		"rejected": res.Rejected,
	})
	return res, nil
}

func (in *Ingestor) dispatch(ctx context.Context, ev Event) (bool, error) {
	switch e := ev.(type) {
	case *MessageEvent:
		if e.Message.Type != models.MessageTypeText {
			eventsTotal.WithLabelValues("message", "skipped").Inc()
			in.log.Info(ctx, "Message type not handled: "+e.Message.Type, map[string]any{"userId": e.Source.UserID})
			return false, nil
		}
		return true, in.handleText(ctx, e)
	default:
		eventsTotal.WithLabelValues(ev.EventType(), "skipped").Inc()
		in.log.Info(ctx, "Event type not handled: "+ev.EventType(), map[string]any{"source": ev.Common().Source})
		return false, nil
	}
}

func (in *Ingestor) handleText(ctx context.Context, e *MessageEvent) error {
	in.log.Info(ctx, "Text message received", map[string]any{
		"userId":  e.Source.UserID,
		"message": e.Message.Text,
	})
	msg, err := in.store.RecordInbound(ctx, e.Source.UserID, e.Message.Text)
	if err != nil {
		eventsTotal.WithLabelValues("message", "failed").Inc()
		return fmt.Errorf("store inbound message: %w", err)
	}
	eventsTotal.WithLabelValues("message", "stored").Inc()
	in.log.Info(ctx, "Message saved to database", map[string]any{"messageId": msg.ID})

	// redelivered events carry reply tokens that have already expired
	if e.ReplyToken == "" || e.DeliveryContext.IsRedelivery || in.autoReply == "" {
		return nil
	}
	in.scheduleReply(e.ReplyToken, e.Source.UserID)
	return nil
}

// scheduleReply sends the acknowledgement without holding up the webhook
// response. Failures are recorded only.
func (in *Ingestor) scheduleReply(token, userID string) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.wg.Add(1)
	in.mu.Unlock()

	go func() {
		defer in.wg.Done()
		ctx, cancel := context.WithTimeout(in.base, in.replyTimeout)
		defer cancel()
		resp, err := in.replier.Reply(ctx, token, in.autoReply)
		if err != nil {
			autoReplies.WithLabelValues("failed").Inc()
			in.log.Error(ctx, "Failed to send auto reply", map[string]any{"userId": userID, "error": err.Error()})
			return
		}
		autoReplies.WithLabelValues("sent").Inc()
		in.log.Info(ctx, "Auto reply sent", map[string]any{"userId": userID, "requestId": resp.RequestID})
	}()
}

// Wait blocks until every scheduled reply has finished.
func (in *Ingestor) Wait() { in.wg.Wait() }

// Close stops accepting new replies and waits for in-flight ones until ctx
// is done, after which they are cancelled.
func (in *Ingestor) Close(ctx context.Context) error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		in.cancel()
		return nil
	case <-ctx.Done():
		in.cancel()
		<-done
		return ctx.Err()
	}
}
