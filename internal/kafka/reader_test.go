package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/message"
)

type fakeReader struct {
	messages chan kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

type recorder struct {
	mu   sync.Mutex
	cmds []message.Command
	err  error
}

func (r *recorder) Process(_ context.Context, cmd message.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func TestReadPaymentCommands(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 3)}
	reader.messages <- kafka.Message{Value: []byte(`not json`)}
	reader.messages <- kafka.Message{Value: []byte(`{"type":"refund","caller":"merchant","paymentId":4}`)}
	reader.messages <- kafka.Message{Value: []byte(`{"type":"process","caller":"c","customer":"c","paymentId":5}`)}

	rec := &recorder{err: errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())
	done := ReadPaymentCommands(ctx, reader, rec, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, message.CommandRefund, rec.cmds[0].Type)
	assert.Equal(t, uint64(4), rec.cmds[0].PaymentID)
	assert.Equal(t, "c", rec.cmds[1].Customer)
}
