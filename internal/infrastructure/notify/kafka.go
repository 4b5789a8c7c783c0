package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/jhoicas/nfse-api/internal/application/credential"
)

// Producer subconjunto de *kgo.Client usado para publicar.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaNotifier publica cada aviso como un registro JSON con clave = user_id.
// La clave agrupa los avisos de un mismo emisor en una partición.
type KafkaNotifier struct {
	producer Producer
	topic    string
	client   *kgo.Client // nil cuando el producer se inyecta
}

var _ credential.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier crea el cliente franz-go contra los brokers dados.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("notify: KAFKA_BROKERS vacío")
	}
	if topic == "" {
		return nil, errors.New("notify: tópico vacío")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProduceRequestTimeout(10*time.Second),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: cliente kafka: %w", err)
	}
	return &KafkaNotifier{producer: client, topic: topic, client: client}, nil
}

// NewKafkaNotifierWithProducer usa un producer ya construido (tests).
func NewKafkaNotifierWithProducer(p Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, topic: topic}
}

func (n *KafkaNotifier) NotifyExpiring(ctx context.Context, notice credential.ExpiryNotice) error {
	value, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("notify: serializar aviso: %w", err)
	}
	rec := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(notice.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte("credential.expiring")},
		},
	}
	if err := n.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("notify: publicar en %s: %w", n.topic, err)
	}
	return nil
}

// Close espera los registros en vuelo y cierra el cliente.
func (n *KafkaNotifier) Close() {
	if n.client != nil {
		n.client.Close()
	}
}
