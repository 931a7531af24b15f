package repository

import (
	"context"
	"testing"

	xlogger "KellyMux/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaAdaptersRequireBrokers(t *testing.T) {
	_, err := NewKafkaIngest(KafkaIngestConfig{Topic: "t"}, xlogger.Nop(), nil)
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaPublisherConfig{Topic: "t"}, xlogger.Nop(), nil)
	assert.Error(t, err)
}

func TestKafkaBindFailsWithoutBroker(t *testing.T) {
	in, err := NewKafkaIngest(KafkaIngestConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "t", GroupID: "g"}, xlogger.Nop(), nil)
	require.NoError(t, err)
	assert.Error(t, in.Bind(context.Background()))

	out, err := NewKafkaPublisher(KafkaPublisherConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "t"}, xlogger.Nop(), nil)
	require.NoError(t, err)
	assert.Error(t, out.Bind(context.Background()))
	assert.NoError(t, out.Close())
}

func TestRedisBindFailsWithoutServer(t *testing.T) {
	pub := NewRedisPublisher(RedisPublisherConfig{Addr: "127.0.0.1:1", Channel: "c"}, xlogger.Nop(), nil)
	defer pub.Close()
	assert.Error(t, pub.Bind(context.Background()))
}
