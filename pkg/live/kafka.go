package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"linedesk/pkg/logger"
)

// NewSaramaConfig returns the producer settings used for event forwarding.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "linedesk"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Timeout = 5 * time.Second
	return cfg
}

// asyncProducer is the part of sarama.AsyncProducer the forwarder uses.
type asyncProducer interface {
	Input() chan<- *sarama.ProducerMessage
	Successes() <-chan *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
	Close() error
}

// KafkaForwarder copies message and customer deltas onto a topic, keyed by
// userId so one conversation stays on one partition. Forward never waits on
// the broker: when the producer input is full the event is dropped.
type KafkaForwarder struct {
	producer asyncProducer
	topic    string

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewKafkaForwarder(brokers []string, topic string) (*KafkaForwarder, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaForwarderWithProducer(producer, topic), nil
}

func NewKafkaForwarderWithProducer(p sarama.AsyncProducer, topic string) *KafkaForwarder {
	return newKafkaForwarder(p, topic)
}

func newKafkaForwarder(p asyncProducer, topic string) *KafkaForwarder {
	k := &KafkaForwarder{producer: p, topic: topic}
	k.wg.Add(2)
	go k.drainSuccesses()
	go k.drainErrors()
	return k
}

func (k *KafkaForwarder) drainSuccesses() {
	defer k.wg.Done()
	for msg := range k.producer.Successes() {
		kafkaForwarded.WithLabelValues("sent").Inc()
		logger.Debug("kafka_sent", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func (k *KafkaForwarder) drainErrors() {
	defer k.wg.Done()
	for perr := range k.producer.Errors() {
		kafkaForwarded.WithLabelValues("failed").Inc()
		logger.Error("kafka_send_failed", "topic", k.topic, "error", perr.Err)
	}
}

// Forward queues ev for the producer. Connection-level events are not
// forwarded.
func (k *KafkaForwarder) Forward(ev Event) {
	if ev.Type != TypeMessage && ev.Type != TypeCustomer {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		logger.Error("kafka_encode_failed", "type", ev.Type, "error", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.UserID),
		Value: sarama.ByteEncoder(raw),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		kafkaForwarded.WithLabelValues("dropped").Inc()
		return
	}
	select {
	case k.producer.Input() <- msg:
	default:
		kafkaForwarded.WithLabelValues("dropped").Inc()
		logger.Warn("kafka_event_dropped", "topic", k.topic, "type", ev.Type, "user_id", ev.UserID)
	}
}

// Close flushes queued events and stops the producer.
func (k *KafkaForwarder) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	err := k.producer.Close()
	k.wg.Wait()
	return err
}
