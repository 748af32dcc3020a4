package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestParseAcks(t *testing.T) {
	for in, want := range map[string]kgo.Acks{
		"":    kgo.AllISRAcks(),
		"all": kgo.AllISRAcks(),
		"-1":  kgo.AllISRAcks(),
		"1":   kgo.LeaderAck(),
		"0":   kgo.NoAck(),
	} {
		got, err := ParseAcks(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAcks("quorum")
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorContains(t, err, "brokers not configured")

	_, err = New(Config{Brokers: []string{"127.0.0.1:1"}, Acks: "2"}, nil)
	assert.ErrorContains(t, err, "want 0, 1 or all")
}

func TestClosedProducerRefusesWork(t *testing.T) {
	p, err := New(Config{Brokers: []string{"127.0.0.1:1"}}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Produce(context.Background(), &Message{Topic: "t"}), ErrClosed)
	assert.ErrorIs(t, p.Health(context.Background()), ErrClosed)
}

func TestRecordHeadersAreSorted(t *testing.T) {
	got := recordHeaders(map[string]string{"seq": "3", "event_type": "CredentialMinted", "aggregate_id": "7"})
	keys := make([]string, 0, len(got))
	for _, h := range got {
		keys = append(keys, h.Key)
	}
	assert.Equal(t, []string{"aggregate_id", "event_type", "seq"}, keys)
	assert.Equal(t, "CredentialMinted", string(got[1].Value))
}
