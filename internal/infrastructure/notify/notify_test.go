package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/infrastructure/notify"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		p.records = append(p.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

var notice = credential.ExpiryNotice{
	CredentialID: "c1", UserID: "u1", SubjectName: "EMPRESA",
	NotAfter: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), DaysLeft: 12,
}

func TestKafkaNotifier_PublicaJSONConClaveDeUsuario(t *testing.T) {
	p := &fakeProducer{}
	n := notify.NewKafkaNotifierWithProducer(p, "nfse.certificates.expiring")

	require.NoError(t, n.NotifyExpiring(context.Background(), notice))
	require.Len(t, p.records, 1)
	rec := p.records[0]
	assert.Equal(t, "nfse.certificates.expiring", rec.Topic)
	assert.Equal(t, []byte("u1"), rec.Key)

	var got credential.ExpiryNotice
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, notice.CredentialID, got.CredentialID)
	assert.Equal(t, 12, got.DaysLeft)
}

func TestKafkaNotifier_PropagaErrorDelBroker(t *testing.T) {
	p := &fakeProducer{err: errors.New("NOT_LEADER_FOR_PARTITION")}
	n := notify.NewKafkaNotifierWithProducer(p, "t")
	err := n.NotifyExpiring(context.Background(), notice)
	assert.ErrorContains(t, err, "NOT_LEADER_FOR_PARTITION")
}

func TestNewKafkaNotifier_SinBrokers(t *testing.T) {
	_, err := notify.NewKafkaNotifier(nil, "t")
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewLogNotifier(zerolog.New(&buf))
	require.NoError(t, n.NotifyExpiring(context.Background(), notice))
	assert.Contains(t, buf.String(), `"credential_id":"c1"`)
	assert.Contains(t, buf.String(), `"days_left":12`)
}
