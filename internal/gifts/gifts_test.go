package gifts

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barlink-service/internal/models"
	"barlink-service/internal/tablestore"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) captured() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Event, len(p.events))
	copy(out, p.events)
	return out
}

func newTestService(t *testing.T) (*Service, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return New(tablestore.NewMemoryStore(), pub, nil), pub
}

func testOrder() Order {
	return Order{
		Sender:       "ana@example.com",
		SenderSeat:   "seat_1",
		Receiver:     "bob@example.com",
		ReceiverSeat: "seat_4",
		BarID:        "bar1",
		Items:        `[{"name":"mojito","count":2}]`,
		Price:        17.80,
	}
}

func TestCreateGift(t *testing.T) {
	svc, pub := newTestService(t)

	gift, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, models.GiftPending, gift.Status)
	assert.NotEmpty(t, gift.RowKey)

	received, err := svc.ListReceived(context.Background(), "bar1", "")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, gift.RowKey, received[0].RowKey)

	sent, err := svc.ListSent(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, gift.RowKey, sent[0].RowKey)

	events := pub.captured()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventGiftStatus, events[0].Kind)
	assert.Equal(t, "bar1;received_gifts", events[0].Group)
}

func TestCreateGiftEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	order := testOrder()
	order.Items = "  "
	_, err := svc.CreateGift(context.Background(), order)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestGiftLifecycle(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)

	gift, err := svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.GiftAccepted, gift.Status)

	// Both ledgers converge to the same terminal status.
	received, err := svc.ListReceived(context.Background(), "bar1", "")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, models.GiftAccepted, received[0].Status)

	sent, err := svc.ListSent(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, models.GiftAccepted, sent[0].Status)

	events := pub.captured()
	require.Len(t, events, 2)
	assert.Equal(t, "ana@example.com;sent_gifts", events[1].Group)
}

func TestSetStatusInvalidTransitions(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)

	// pending is not a terminal target.
	_, err = svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftStatus("wrapped"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftDeclined)
	require.NoError(t, err)

	// Declined is final; accepting afterwards is rejected.
	_, err = svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftAccepted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// So is repeating the very same decision.
	_, err = svc.SetStatus(context.Background(), "bar1", created.RowKey, models.GiftDeclined)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The stored status is untouched by the rejected calls.
	received, err := svc.ListReceived(context.Background(), "bar1", "")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, models.GiftDeclined, received[0].Status)
}

func TestSetStatusUnknownGift(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SetStatus(context.Background(), "bar1", "2030-01-01T00:00:00.000000000Z", models.GiftAccepted)
	assert.ErrorIs(t, err, ErrGiftNotFound)
}

func TestListReceivedPendingFilter(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)
	second, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), "bar1", first.RowKey, models.GiftAccepted)
	require.NoError(t, err)

	pending, err := svc.ListReceived(context.Background(), "bar1", models.GiftPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.RowKey, pending[0].RowKey)
}

func TestListSentNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)
	second, err := svc.CreateGift(context.Background(), testOrder())
	require.NoError(t, err)

	sent, err := svc.ListSent(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, second.RowKey, sent[0].RowKey)
	assert.Equal(t, first.RowKey, sent[1].RowKey)
}
