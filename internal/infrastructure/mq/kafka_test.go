package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_Send(t *testing.T) {
	mp := mocks.NewSyncProducer(t, NewProducerConfig())
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"tx_ref":"alto-1"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(mp)
	require.NoError(t, p.Send("payment.settled", "alto-1", `{"tx_ref":"alto-1"}`))
	assert.ErrorIs(t, p.Send("payment.settled", "alto-2", `{}`), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestNewProducerConfig(t *testing.T) {
	c := NewProducerConfig()
	assert.Equal(t, sarama.WaitForAll, c.Producer.RequiredAcks)
	assert.True(t, c.Producer.Return.Successes)
	assert.NoError(t, c.Validate())
}
