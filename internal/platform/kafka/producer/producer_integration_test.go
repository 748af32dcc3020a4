//go:build integration

package producer_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustid/internal/platform/kafka/producer"
	"trustid/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	p, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		ClientID:        "producer-it",
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = p
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.NoError(s.producer.Close())
	}
}

func (s *ProducerIntegrationSuite) TestEventsForOneTokenKeepSeqOrder() {
	ctx := context.Background()
	topic := s.kafka.Topic(s.T())

	kinds := []string{"CredentialMinted", "EmployerVerified", "InstitutionVerificationRequested", "InstitutionVerified"}
	for i, kind := range kinds {
		seq := strconv.Itoa(i + 1)
		s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
			Topic:   topic,
			Key:     []byte("7"),
			Value:   []byte(`{"seq":` + seq + `}`),
			Headers: map[string]string{"event_type": kind, "seq": seq},
		}))
	}

	records, err := s.kafka.Consume(ctx, topic, len(kinds), 20*time.Second)
	s.Require().NoError(err)
	s.Require().Len(records, len(kinds))
	for i, r := range records {
		s.Equal("7", string(r.Key))
		s.Require().Len(r.Headers, 2)
		s.Equal("event_type", r.Headers[0].Key)
		s.Equal(kinds[i], string(r.Headers[0].Value))
		s.Equal(strconv.Itoa(i+1), string(r.Headers[1].Value))
	}
}

func (s *ProducerIntegrationSuite) TestHealth() {
	s.NoError(s.producer.Health(context.Background()))
}
