//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"crowdledger/pkg/testutil/containers"
)

func TestProducer_PublishIsConsumable(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	producer, err := NewProducer(ctx, []string{broker.Broker}, "crowdledger.events.test")
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.EnsureTopic(ctx, 1, 1))
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1), "second create must tolerate an existing topic")

	require.NoError(t, producer.Publish(ctx, "42", []byte(`{"seq":1}`), map[string]string{"seq": "1"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(producer.Topic()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "42", string(record.Key))
	assert.JSONEq(t, `{"seq":1}`, string(record.Value))
	require.Len(t, record.Headers, 1)
	assert.Equal(t, "seq", record.Headers[0].Key)
	assert.Equal(t, "1", string(record.Headers[0].Value))
	assert.NoError(t, producer.Health(ctx))
}
