package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Event is one decoded entry of a webhook envelope.
type Event interface {
	EventType() string
	Common() Base
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// Base carries the fields shared by every event type.
type Base struct {
	Type            string          `json:"type"`
	Mode            string          `json:"mode,omitempty"`
	Timestamp       int64           `json:"timestamp"`
	WebhookEventID  string          `json:"webhookEventId,omitempty"`
	Source          Source          `json:"source"`
	DeliveryContext DeliveryContext `json:"deliveryContext"`
}

func (b Base) EventType() string { return b.Type }
func (b Base) Common() Base      { return b }

type MessageContent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type MessageEvent struct {
	Base
	ReplyToken string         `json:"replyToken"`
	Message    MessageContent `json:"message"`
}

type FollowEvent struct {
	Base
	ReplyToken string `json:"replyToken"`
}

type UnfollowEvent struct {
	Base
}

type PostbackEvent struct {
	Base
	ReplyToken string `json:"replyToken"`
	Postback   struct {
		Data string `json:"data"`
	} `json:"postback"`
}

// UnknownEvent is any well-formed event whose type has no dedicated variant.
type UnknownEvent struct {
	Base
	Raw json.RawMessage `json:"-"`
}

// envelope is the outer webhook document; events stay raw so one bad entry
// cannot fail the batch.
type envelope struct {
	Destination string            `json:"destination"`
	Events      []json.RawMessage `json:"events"`
}

var errEventMalformed = errors.New("malformed event")

// decodeEvent validates raw against the schema for its type tag and decodes
// it into the matching variant.
func decodeEvent(raw json.RawMessage) (Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEventMalformed, err)
	}
	var tag struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &tag)

	if err := schemaFor(tag.Type).Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %s", errEventMalformed, firstLine(err.Error()))
	}

	var ev Event
	switch tag.Type {
	case "message":
		ev = &MessageEvent{}
	case "follow":
		ev = &FollowEvent{}
	case "unfollow":
		ev = &UnfollowEvent{}
	case "postback":
		ev = &PostbackEvent{}
	default:
		u := &UnknownEvent{Raw: append(json.RawMessage(nil), raw...)}
		if err := json.Unmarshal(raw, &u.Base); err != nil {
			return nil, fmt.Errorf("%w: %v", errEventMalformed, err)
		}
		return u, nil
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", errEventMalformed, err)
	}
	return ev, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
