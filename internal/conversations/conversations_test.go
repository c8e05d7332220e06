package conversations

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"barlink-service/internal/mocks"
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

func newTestService(t *testing.T) (*Service, tablestore.Store, *capturePublisher) {
	t.Helper()
	store := tablestore.NewMemoryStore()
	pub := &capturePublisher{}
	return New(store, pub, nil), store, pub
}

func seedProfile(t *testing.T, store tablestore.Store, userID, first, last string) {
	t.Helper()
	_, err := store.Insert(context.Background(), models.Table, tablestore.Entity{
		PartitionKey: models.UsersPartition,
		RowKey:       userID,
		Props:        map[string]any{"firstName": first, "lastName": last},
	}, tablestore.ModeCreate)
	require.NoError(t, err)
}

func TestSendMessageFirstContact(t *testing.T) {
	svc, _, pub := newTestService(t)

	msg, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com;bob@example.com", msg.PairKey)
	assert.NotEmpty(t, msg.RowKey)

	thread, err := svc.FetchThread(context.Background(), "bob@example.com", "ana@example.com")
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "hi there", thread[0].Text)

	// Recipient sees the conversation unread, sender read.
	inbox, err := svc.FetchInbox(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "ana@example.com", inbox[0].Counterpart)
	assert.False(t, inbox[0].IsRead)

	inbox, err = svc.FetchInbox(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.True(t, inbox[0].IsRead)

	// Pair group plus both private inbox groups.
	events := pub.captured()
	require.Len(t, events, 3)
	groups := make([]string, 0, 3)
	for _, e := range events {
		assert.Equal(t, models.EventChatMessage, e.Kind)
		groups = append(groups, e.Group)
	}
	assert.ElementsMatch(t, []string{
		"ana@example.com;bob@example.com",
		"ana@example.com;chat",
		"bob@example.com;chat",
	}, groups)
}

func TestSendMessageUsesProfileName(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedProfile(t, store, "ana@example.com", "Ana", "Petrova")

	_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "hello")
	require.NoError(t, err)

	inbox, err := svc.FetchInbox(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Ana Petrova", inbox[0].CounterpartName)
}

func TestSendMessageEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestThreadOrdering(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, text := range []string{"first", "second", "third"} {
		_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", text)
		require.NoError(t, err)
	}
	_, err := svc.SendMessage(context.Background(), "bob@example.com", "ana@example.com", "fourth")
	require.NoError(t, err)

	thread, err := svc.FetchThread(context.Background(), "ana@example.com", "bob@example.com")
	require.NoError(t, err)
	require.Len(t, thread, 4)
	for i, want := range []string{"first", "second", "third", "fourth"} {
		assert.Equal(t, want, thread[i].Text)
	}
	assert.Equal(t, "bob@example.com", thread[3].Sender)
}

func TestInboxOrdering(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "to bob")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), "ana@example.com", "carol@example.com", "to carol")
	require.NoError(t, err)

	inbox, err := svc.FetchInbox(context.Background(), "ana@example.com")
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "carol@example.com", inbox[0].Counterpart)
	assert.Equal(t, "bob@example.com", inbox[1].Counterpart)
}

func TestSendMessagePartialWrite(t *testing.T) {
	store := new(mocks.StoreMock)
	pub := new(mocks.HubPublisherMock)
	svc := New(store, pub, nil)

	store.On("Insert", mock.Anything, models.Table, mock.Anything, tablestore.ModeCreate).
		Return(tablestore.Entity{}, nil).Once()
	store.On("Get", mock.Anything, models.Table, models.UsersPartition, mock.Anything).
		Return(tablestore.Entity{}, tablestore.ErrNotFound)
	store.On("Insert", mock.Anything, models.Table, mock.Anything, tablestore.ModeUpsert).
		Return(tablestore.Entity{}, assert.AnError)

	msg, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "hi")
	assert.ErrorIs(t, err, ErrPartialWrite)
	assert.NotEmpty(t, msg.RowKey)

	// The message row persisted but no event goes out for a torn write.
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestMarkRead(t *testing.T) {
	svc, _, pub := newTestService(t)

	_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "hi")
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), "bob@example.com", "ana@example.com"))

	inbox, err := svc.FetchInbox(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.True(t, inbox[0].IsRead)

	// The notice reaches the reader's inbox group and the sender's, so the
	// sender sees their message was seen.
	events := pub.captured()
	require.Len(t, events, 5)
	groups := []string{events[3].Group, events[4].Group}
	assert.ElementsMatch(t, []string{"bob@example.com;chat", "ana@example.com;chat"}, groups)
	for _, e := range events[3:] {
		var payload models.ChatMessagePayload
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		assert.True(t, payload.Read)
	}

	// Repeats and unknown conversations are no-ops.
	require.NoError(t, svc.MarkRead(context.Background(), "bob@example.com", "ana@example.com"))
	require.NoError(t, svc.MarkRead(context.Background(), "bob@example.com", "nobody@example.com"))
	assert.Len(t, pub.captured(), 5)
}

func TestInboxRowsLiveInChatPartition(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.SendMessage(context.Background(), "ana@example.com", "bob@example.com", "hi")
	require.NoError(t, err)

	rows, err := store.Query(context.Background(), models.Table, "PartitionKey eq 'bob@example.com;chat'")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ana@example.com", rows[0].RowKey)

	// The bare user id stays free for other entity kinds.
	rows, err = store.Query(context.Background(), models.Table, "PartitionKey eq 'bob@example.com'")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchInboxSkipsForeignPartitions(t *testing.T) {
	svc, store, _ := newTestService(t)

	// A seat row keyed by bar id must never surface as somebody's inbox.
	_, err := store.Insert(context.Background(), models.Table, tablestore.Entity{
		PartitionKey: "bar7",
		RowKey:       "seat_1",
		Props:        map[string]any{"x": 0.5, "y": 0.25, "connectedUser": ""},
	}, tablestore.ModeCreate)
	require.NoError(t, err)

	inbox, err := svc.FetchInbox(context.Background(), "bar7")
	require.NoError(t, err)
	assert.Empty(t, inbox)
}
