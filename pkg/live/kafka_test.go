package live

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"linedesk/pkg/models"
)

func TestKafkaForwarderSendsDeltas(t *testing.T) {
	ap := mocks.NewAsyncProducer(t, NewSaramaConfig())
	ap.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != TypeMessage || ev.UserID != "U1" {
			return errors.New("unexpected event payload")
		}
		return nil
	})
	ap.ExpectInputAndFail(errors.New("broker down"))

	sent := testutil.ToFloat64(kafkaForwarded.WithLabelValues("sent"))
	failed := testutil.ToFloat64(kafkaForwarded.WithLabelValues("failed"))

	f := NewKafkaForwarderWithProducer(ap, "linedesk.events")
	f.Forward(Event{Type: TypeMessage, UserID: "U1", Message: &models.Message{ID: "1"}})
	f.Forward(Event{Type: TypeHeartbeat})
	f.Forward(Event{Type: TypeCustomer, UserID: "U2", Customer: &models.Customer{UserID: "U2"}})

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := testutil.ToFloat64(kafkaForwarded.WithLabelValues("sent")) - sent; got != 1 {
		t.Fatalf("expected 1 sent, got %v", got)
	}
	if got := testutil.ToFloat64(kafkaForwarded.WithLabelValues("failed")) - failed; got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}

	// after Close events are dropped, not sent on a closed input
	f.Forward(Event{Type: TypeMessage, UserID: "U1"})
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// stalledProducer never reads its input, like a producer stuck on a broker.
type stalledProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func newStalledProducer() *stalledProducer {
	return &stalledProducer{
		input:     make(chan *sarama.ProducerMessage),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (p *stalledProducer) Input() chan<- *sarama.ProducerMessage     { return p.input }
func (p *stalledProducer) Successes() <-chan *sarama.ProducerMessage { return p.successes }
func (p *stalledProducer) Errors() <-chan *sarama.ProducerError      { return p.errors }
func (p *stalledProducer) Close() error {
	close(p.successes)
	close(p.errors)
	return nil
}

func TestKafkaForwarderNeverBlocksPublish(t *testing.T) {
	f := newKafkaForwarder(newStalledProducer(), "linedesk.events")
	h := NewHub(4)
	h.AddForwarder(f)

	dropped := testutil.ToFloat64(kafkaForwarded.WithLabelValues("dropped"))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.PublishMessage(models.Message{ID: "m", UserID: "U1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a stalled producer")
	}
	if got := testutil.ToFloat64(kafkaForwarded.WithLabelValues("dropped")) - dropped; got != 10 {
		t.Fatalf("expected 10 dropped events, got %v", got)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
