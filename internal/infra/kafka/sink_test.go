package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/transport"
)

func faultOp(dest string) domain.TransportOperation {
	return domain.TransportOperation{
		Message: &domain.OutgoingMessage{
			MessageID: "m-1",
			Headers:   domain.Headers{domain.HeaderFailedQ: "orders"},
			Body:      []byte(`{"order":1}`),
		},
		Destination: dest,
	}
}

func TestSink_DispatchSendsToMappedTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "dead-letters" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != domain.HeaderFailedQ {
			return errors.New("fault headers missing")
		}
		return nil
	})
	sink := NewFromProducer(producer, map[string]string{"error": "dead-letters"})

	err := sink.Dispatch(context.Background(), []domain.TransportOperation{faultOp("error")}, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestSink_UnmappedAddressIsTopic(t *testing.T) {
	sink := NewFromProducer(mocks.NewSyncProducer(t, nil), nil)
	assert.Equal(t, "audit", sink.Topic("audit"))
}

func TestSink_RejectsDelayedOperations(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	sink := NewFromProducer(producer, nil)

	op := faultOp("orders")
	op.Constraints = []domain.DeliveryConstraint{domain.DelayDeliveryWith{Delay: time.Second}}

	err := sink.Dispatch(context.Background(), []domain.TransportOperation{op}, nil)
	assert.ErrorIs(t, err, transport.ErrDelayedDeliveryNotSupported)
	assert.False(t, sink.SupportsDelayedDelivery())
	require.NoError(t, sink.Close())
}

func TestSink_SendFailureReturned(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sink := NewFromProducer(producer, nil)

	err := sink.Dispatch(context.Background(), []domain.TransportOperation{faultOp("error")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka sink: send")
	require.NoError(t, sink.Close())
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
