package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-coupons/internal/coupon"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

// fakeReader replays a fixed list of messages and then blocks until cancelled.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestPublishCouponClaimed(t *testing.T) {
	writer := new(MockWriter)
	p := &Producer{Writer: writer, ClaimedTopic: "coupons.claimed", Logger: logger.NewWithWriter(io.Discard)}

	event := models.CouponClaimedEvent{
		EventID:      "evt-1",
		DefinitionID: "def-1",
		InstanceID:   "inst-1",
		Code:         "CITY-ABCD2345",
		UserID:       "user-1",
		AssignedAt:   time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC),
	}

	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || msgs[0].Topic != "coupons.claimed" || string(msgs[0].Key) != "def-1" {
			return false
		}
		var got models.CouponClaimedEvent
		return json.Unmarshal(msgs[0].Value, &got) == nil && got.Code == "CITY-ABCD2345"
	})).Return(nil).Once()

	require.NoError(t, p.PublishCouponClaimed(context.Background(), event))
	writer.AssertExpectations(t)
}

func TestPublishCouponClaimed_WriterError(t *testing.T) {
	writer := new(MockWriter)
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("no brokers"))
	p := &Producer{Writer: writer, ClaimedTopic: "coupons.claimed", Logger: logger.NewWithWriter(io.Discard)}

	err := p.PublishCouponClaimed(context.Background(), models.CouponClaimedEvent{DefinitionID: "def-1"})
	assert.Error(t, err)
}

func redeemedMessage(t *testing.T, offset int64, event models.CouponRedeemedEvent) kafka.Message {
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func TestConsumerRun(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		redeemedMessage(t, 1, models.CouponRedeemedEvent{InstanceCode: "CITY-AAAAAAAA", UserID: "user-1"}),
		{Offset: 2, Value: []byte("{garbage")},
		redeemedMessage(t, 3, models.CouponRedeemedEvent{InstanceCode: "CITY-FLAKY234"}),
		redeemedMessage(t, 4, models.CouponRedeemedEvent{InstanceCode: "CITY-BROKEN23"}),
	}}
	c := &Consumer{Reader: reader, Logger: logger.NewWithWriter(io.Discard), Attempts: 3, Backoff: time.Millisecond}

	var mu sync.Mutex
	calls := map[string]int{}
	handler := func(_ context.Context, e models.CouponRedeemedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		calls[e.InstanceCode]++
		switch e.InstanceCode {
		case "CITY-FLAKY234":
			if calls[e.InstanceCode] < 2 {
				return errors.New("temporary")
			}
		case "CITY-BROKEN23":
			return errors.New("always failing")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()

	assert.Eventually(t, func() bool { return len(reader.Committed()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["CITY-AAAAAAAA"])
	assert.Equal(t, 2, calls["CITY-FLAKY234"], "succeeds on retry")
	assert.Equal(t, 3, calls["CITY-BROKEN23"], "a non-store failure is given up on after the configured attempts")
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.Committed())
}

func outage() error {
	return fmt.Errorf("insert redemption: %w", errors.Join(coupon.ErrTransientStore, errors.New("connection refused")))
}

func TestConsumerRun_StoreOutageHoldsOffset(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		redeemedMessage(t, 7, models.CouponRedeemedEvent{InstanceCode: "CITY-OUTAGE22"}),
		redeemedMessage(t, 8, models.CouponRedeemedEvent{InstanceCode: "CITY-AFTER234"}),
	}}
	c := &Consumer{
		Reader:     reader,
		Logger:     logger.NewWithWriter(io.Discard),
		Attempts:   3,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
	}

	var healthy atomic.Bool
	var calls atomic.Int32
	handler := func(_ context.Context, e models.CouponRedeemedEvent) error {
		if e.InstanceCode == "CITY-OUTAGE22" {
			calls.Add(1)
			if !healthy.Load() {
				return outage()
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()

	// well past the attempt budget and still nothing committed
	assert.Eventually(t, func() bool { return calls.Load() > 10 }, 2*time.Second, time.Millisecond)
	assert.Empty(t, reader.Committed())

	healthy.Store(true)
	assert.Eventually(t, func() bool { return len(reader.Committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7, 8}, reader.Committed())
}

func TestConsumerRun_ShutdownDuringOutageLeavesOffset(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		redeemedMessage(t, 3, models.CouponRedeemedEvent{InstanceCode: "CITY-OUTAGE22"}),
	}}
	c := &Consumer{Reader: reader, Logger: logger.NewWithWriter(io.Discard), Attempts: 1, Backoff: time.Millisecond}

	var calls atomic.Int32
	handler := func(context.Context, models.CouponRedeemedEvent) error {
		calls.Add(1)
		return outage()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()

	assert.Eventually(t, func() bool { return calls.Load() > 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.Committed())
}

func TestConsumerBackoffIsCapped(t *testing.T) {
	c := &Consumer{Backoff: 500 * time.Millisecond, MaxBackoff: 2 * time.Second}
	assert.Equal(t, 500*time.Millisecond, c.backoff(1))
	assert.Equal(t, 1500*time.Millisecond, c.backoff(3))
	assert.Equal(t, 2*time.Second, c.backoff(50))
}
