package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barlink-service/internal/gifts"
	"barlink-service/internal/models"
	"barlink-service/internal/registry"
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

func newTestCoordinator(t *testing.T) (*Coordinator, tablestore.Store, *capturePublisher) {
	t.Helper()
	store := tablestore.NewMemoryStore()
	pub := &capturePublisher{}
	coord := New(Config{Store: store, Publisher: pub})
	return coord, store, pub
}

func seedSeat(t *testing.T, store tablestore.Store, barID, seatID string) {
	t.Helper()
	seat := models.Seat{BarID: barID, SeatID: seatID}
	_, err := store.Insert(context.Background(), models.Table, seat.Entity(), tablestore.ModeCreate)
	require.NoError(t, err)
}

func TestScanSeatCode(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	seedSeat(t, store, "bar1", "seat_4")

	session := Session{UserID: "ana@example.com", BarID: "bar1"}
	res, err := coord.ScanSeatCode(context.Background(), session, "bar1;seat_4")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.Seat.ConnectedUser)

	_, err = coord.ScanSeatCode(context.Background(), session, "not a seat code")
	assert.ErrorIs(t, err, registry.ErrMalformedPayload)
}

func TestClaimSeatWrongVenue(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	seedSeat(t, store, "bar2", "seat_1")

	session := Session{UserID: "ana@example.com", BarID: "bar1"}
	_, err := coord.ClaimSeat(context.Background(), session, "bar2", "seat_1")
	assert.ErrorIs(t, err, ErrWrongVenue)

	_, err = coord.ScanSeatCode(context.Background(), session, "bar2;seat_1")
	assert.ErrorIs(t, err, ErrWrongVenue)
}

func TestClaimSeatRace(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	seedSeat(t, store, "bar1", "seat_1")

	ana := Session{UserID: "ana@example.com", BarID: "bar1"}
	bob := Session{UserID: "bob@example.com", BarID: "bar1"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, session := range []Session{ana, bob} {
		wg.Add(1)
		go func(i int, session Session) {
			defer wg.Done()
			_, errs[i] = coord.ClaimSeat(context.Background(), session, "bar1", "seat_1")
		}(i, session)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, registry.ErrAlreadyOccupied)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestManagerOnlyOperations(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	guest := Session{UserID: "ana@example.com", BarID: "bar1"}
	manager := Session{UserID: "mgr@example.com", ManagerOf: []string{"bar1"}}

	_, err := coord.CreateSeat(context.Background(), guest, "bar1", "seat_9", 1, 2)
	assert.ErrorIs(t, err, ErrWrongVenue)

	seat, err := coord.CreateSeat(context.Background(), manager, "bar1", "seat_9", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "seat_9", seat.SeatID)

	_, err = coord.SetGiftStatus(context.Background(), guest, "bar1", "row", models.GiftAccepted)
	assert.ErrorIs(t, err, ErrWrongVenue)

	_, err = coord.ListReceivedGifts(context.Background(), guest, "bar1", "")
	assert.ErrorIs(t, err, ErrWrongVenue)
}

func TestGroupsFor(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	session := Session{
		UserID:    "ana@example.com",
		BarID:     "bar1",
		ChatPeer:  "bob@example.com",
		ManagerOf: []string{"bar2"},
	}
	groups := coord.GroupsFor(session)
	assert.ElementsMatch(t, []string{
		"seatsChange",
		"bar1;seats",
		"ana@example.com;chat",
		"ana@example.com;sent_gifts",
		"ana@example.com;bob@example.com",
		"Managers",
		"bar2;received_gifts",
	}, groups)
}

func TestSubscribeReceivesSessionEvents(t *testing.T) {
	coord, store, pub := newTestCoordinator(t)
	seedSeat(t, store, "bar1", "seat_1")

	session := Session{UserID: "bob@example.com", BarID: "bar1"}
	events, cancel := coord.Subscribe(session, models.EventSeatChange)
	defer cancel()

	ana := Session{UserID: "ana@example.com", BarID: "bar1"}
	_, err := coord.ClaimSeat(context.Background(), ana, "bar1", "seat_1")
	require.NoError(t, err)

	// Chat between two other users must not leak into this subscription.
	_, err = coord.SendMessage(context.Background(), ana, "carol@example.com", "hi")
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, models.EventSeatChange, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a seat change event")
	}
	select {
	case event, ok := <-events:
		if ok && event.Kind != models.EventSeatChange {
			t.Fatalf("unexpected event kind %s", event.Kind)
		}
	default:
	}

	// Events also went out through the hub publisher.
	assert.NotEmpty(t, pub.captured())
}

func TestSubscribeCancelIdempotent(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, cancel := coord.Subscribe(Session{UserID: "ana@example.com"})
	cancel()
	cancel()
}

func TestEmergencyAlert(t *testing.T) {
	coord, _, pub := newTestCoordinator(t)

	session := Session{UserID: "ana@example.com", BarID: "bar1"}
	require.NoError(t, coord.EmergencyAlert(context.Background(), session, "need help at the bar"))

	events := pub.captured()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEmergency, events[0].Kind)
	assert.Equal(t, "Managers", events[0].Group)
}

func TestReconcile(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	seedSeat(t, store, "bar1", "seat_1")

	ana := Session{UserID: "ana@example.com", BarID: "bar1"}
	_, err := coord.ClaimSeat(context.Background(), ana, "bar1", "seat_1")
	require.NoError(t, err)
	_, err = coord.SendMessage(context.Background(), Session{UserID: "bob@example.com"}, "ana@example.com", "hi ana")
	require.NoError(t, err)
	_, err = coord.CreateGift(context.Background(), ana, gifts.Order{
		Receiver:     "bob@example.com",
		ReceiverSeat: "seat_2",
		Items:        `[{"name":"beer"}]`,
		Price:        4.5,
	})
	require.NoError(t, err)

	report, err := coord.Reconcile(context.Background(), ana)
	require.NoError(t, err)
	require.Len(t, report.Inbox, 1)
	assert.Equal(t, "bob@example.com", report.Inbox[0].Counterpart)
	require.Len(t, report.Seats, 1)
	assert.Equal(t, "ana@example.com", report.Seats[0].ConnectedUser)
	require.Len(t, report.HeldSeats, 1)
	require.Len(t, report.SentGifts, 1)
	assert.Empty(t, report.ReceivedGifts)

	manager := Session{UserID: "mgr@example.com", ManagerOf: []string{"bar1"}}
	report, err = coord.Reconcile(context.Background(), manager)
	require.NoError(t, err)
	require.Len(t, report.ReceivedGifts["bar1"], 1)
	assert.Equal(t, models.GiftPending, report.ReceivedGifts["bar1"][0].Status)
}
