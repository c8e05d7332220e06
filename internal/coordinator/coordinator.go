// Package coordinator is the single entry point the transport layers call.
// It owns the seat registry, the conversation and gift ledgers, and the hub
// publisher, and it is where caller state lives: every operation takes an
// explicit Session instead of reading ambient globals.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"barlink-service/internal/conversations"
	"barlink-service/internal/gifts"
	"barlink-service/internal/hub"
	"barlink-service/internal/models"
	"barlink-service/internal/registry"
	"barlink-service/internal/routing"
	"barlink-service/internal/tablestore"
	"barlink-service/internal/telemetry"
)

var (
	// ErrWrongVenue rejects operations that reference a bar the session is
	// not checked into or does not manage.
	ErrWrongVenue = errors.New("wrong venue for this session")

	// ErrUnknownOutcome means a claim hit its deadline before the write was
	// acknowledged. The seat may or may not be held; the caller must
	// re-query instead of assuming either outcome.
	ErrUnknownOutcome = errors.New("claim outcome unknown")
)

const defaultClaimTimeout = 5 * time.Second

// Session is the caller's state, resolved by the transport from its identity
// and venue context. ManagerOf lists bars the user staffs.
type Session struct {
	UserID    string   `json:"user_id"`
	BarID     string   `json:"bar_id,omitempty"`
	ManagerOf []string `json:"manager_of,omitempty"`
	ChatPeer  string   `json:"chat_peer,omitempty"`
}

func (s Session) manages(barID string) bool {
	for _, b := range s.ManagerOf {
		if b == barID {
			return true
		}
	}
	return false
}

type Config struct {
	Store        tablestore.Store
	Publisher    hub.Publisher
	Audit        *telemetry.AuditEmitter
	BarPrefix    string
	ClaimTimeout time.Duration
}

type Coordinator struct {
	registry      *registry.Registry
	conversations *conversations.Service
	gifts         *gifts.Service
	qr            *registry.QRParser
	tap           hub.Publisher
	claimTimeout  time.Duration

	mu   sync.Mutex
	subs map[*subscription]bool
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{
		qr:           registry.NewQRParser(cfg.BarPrefix),
		claimTimeout: cfg.ClaimTimeout,
		subs:         make(map[*subscription]bool),
	}
	if c.claimTimeout <= 0 {
		c.claimTimeout = defaultClaimTimeout
	}

	// Services publish through the tap so in-process subscribers observe
	// the same stream the hub groups receive.
	tap := &tapPublisher{inner: cfg.Publisher, coord: c}
	c.tap = tap
	c.registry = registry.New(cfg.Store, tap, cfg.Audit)
	c.conversations = conversations.New(cfg.Store, tap, cfg.Audit)
	c.gifts = gifts.New(cfg.Store, tap, cfg.Audit)
	return c
}

// ClaimSeat claims the seat for the session's user. The operation is bounded
// by the claim timeout; on deadline the result is deliberately indeterminate.
func (c *Coordinator) ClaimSeat(ctx context.Context, session Session, barID, seatID string) (registry.ClaimResult, error) {
	if session.BarID != "" && session.BarID != barID {
		return registry.ClaimResult{}, fmt.Errorf("%w: session at %s, seat at %s", ErrWrongVenue, session.BarID, barID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.claimTimeout)
	defer cancel()

	res, err := c.registry.ClaimSeat(ctx, barID, seatID, session.UserID)
	if errors.Is(err, context.DeadlineExceeded) {
		return registry.ClaimResult{}, ErrUnknownOutcome
	}
	return res, err
}

// ScanSeatCode parses a scanned QR payload and claims the seat it names.
func (c *Coordinator) ScanSeatCode(ctx context.Context, session Session, payload string) (registry.ClaimResult, error) {
	ref, err := c.qr.Parse(payload)
	if err != nil {
		return registry.ClaimResult{}, err
	}
	return c.ClaimSeat(ctx, session, ref.BarID, ref.SeatID)
}

func (c *Coordinator) ReleaseSeat(ctx context.Context, session Session, barID, seatID string) error {
	return c.registry.ReleaseSeat(ctx, barID, seatID, session.UserID)
}

func (c *Coordinator) SwitchSeat(ctx context.Context, session Session, barID, seatID string) (registry.ClaimResult, error) {
	if session.BarID != "" && session.BarID != barID {
		return registry.ClaimResult{}, fmt.Errorf("%w: session at %s, seat at %s", ErrWrongVenue, session.BarID, barID)
	}
	return c.registry.SwitchSeat(ctx, barID, seatID, session.UserID)
}

func (c *Coordinator) FetchSeat(ctx context.Context, barID, seatID string) (models.Seat, error) {
	return c.registry.FetchSeat(ctx, barID, seatID)
}

func (c *Coordinator) ListSeats(ctx context.Context, barID string) ([]models.Seat, error) {
	return c.registry.ListSeats(ctx, barID)
}

// CreateSeat, MoveSeat and DeleteSeat edit the venue layout and require the
// session to manage the bar.
func (c *Coordinator) CreateSeat(ctx context.Context, session Session, barID, seatID string, x, y float64) (models.Seat, error) {
	if !session.manages(barID) {
		return models.Seat{}, fmt.Errorf("%w: %s is not managed by %s", ErrWrongVenue, barID, session.UserID)
	}
	return c.registry.CreateSeat(ctx, barID, seatID, x, y)
}

func (c *Coordinator) MoveSeat(ctx context.Context, session Session, barID, seatID string, x, y float64) error {
	if !session.manages(barID) {
		return fmt.Errorf("%w: %s is not managed by %s", ErrWrongVenue, barID, session.UserID)
	}
	return c.registry.MoveSeat(ctx, barID, seatID, x, y)
}

func (c *Coordinator) DeleteSeat(ctx context.Context, session Session, barID, seatID string) error {
	if !session.manages(barID) {
		return fmt.Errorf("%w: %s is not managed by %s", ErrWrongVenue, barID, session.UserID)
	}
	return c.registry.DeleteSeat(ctx, barID, seatID)
}

func (c *Coordinator) SendMessage(ctx context.Context, session Session, recipient, text string) (models.ChatMessage, error) {
	return c.conversations.SendMessage(ctx, session.UserID, recipient, text)
}

func (c *Coordinator) MarkRead(ctx context.Context, session Session, counterpart string) error {
	return c.conversations.MarkRead(ctx, session.UserID, counterpart)
}

func (c *Coordinator) FetchThread(ctx context.Context, session Session, peer string) ([]models.ChatMessage, error) {
	return c.conversations.FetchThread(ctx, session.UserID, peer)
}

func (c *Coordinator) FetchInbox(ctx context.Context, session Session) ([]models.InboxEntry, error) {
	return c.conversations.FetchInbox(ctx, session.UserID)
}

func (c *Coordinator) CreateGift(ctx context.Context, session Session, order gifts.Order) (models.Gift, error) {
	order.Sender = session.UserID
	if order.BarID == "" {
		order.BarID = session.BarID
	}
	if session.BarID != "" && order.BarID != session.BarID {
		return models.Gift{}, fmt.Errorf("%w: session at %s, gift for %s", ErrWrongVenue, session.BarID, order.BarID)
	}
	return c.gifts.CreateGift(ctx, order)
}

func (c *Coordinator) SetGiftStatus(ctx context.Context, session Session, barID, rowKey string, status models.GiftStatus) (models.Gift, error) {
	if !session.manages(barID) {
		return models.Gift{}, fmt.Errorf("%w: %s is not managed by %s", ErrWrongVenue, barID, session.UserID)
	}
	return c.gifts.SetStatus(ctx, barID, rowKey, status)
}

func (c *Coordinator) ListSentGifts(ctx context.Context, session Session) ([]models.Gift, error) {
	return c.gifts.ListSent(ctx, session.UserID)
}

func (c *Coordinator) ListReceivedGifts(ctx context.Context, session Session, barID string, status models.GiftStatus) ([]models.Gift, error) {
	if !session.manages(barID) {
		return nil, fmt.Errorf("%w: %s is not managed by %s", ErrWrongVenue, barID, session.UserID)
	}
	return c.gifts.ListReceived(ctx, barID, status)
}

// EmergencyAlert notifies every on-duty manager. Payload carries the venue
// name so manager clients filter for their own bar.
func (c *Coordinator) EmergencyAlert(ctx context.Context, session Session, text string) error {
	return c.tap.Publish(ctx, models.Event{
		Kind:   models.EventEmergency,
		Group:  routing.ManagersGroup,
		Sender: session.UserID,
		Payload: models.MarshalPayload(models.EmergencyPayload{
			UserID:  session.UserID,
			BarName: session.BarID,
			Text:    text,
		}),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// GroupsFor lists the hub groups implied by the session's state. Clients join
// these after connecting and again after every reconnect.
func (c *Coordinator) GroupsFor(session Session) []string {
	groups := []string{routing.SeatsChangeGroup}
	if session.BarID != "" {
		if g, err := routing.BarSeats(session.BarID); err == nil {
			groups = append(groups, g)
		}
	}
	if session.UserID != "" {
		if g, err := routing.UserInbox(session.UserID); err == nil {
			groups = append(groups, g)
		}
		if g, err := routing.SentGifts(session.UserID); err == nil {
			groups = append(groups, g)
		}
	}
	if session.ChatPeer != "" {
		if g, err := routing.ChatPair(session.UserID, session.ChatPeer); err == nil {
			groups = append(groups, g)
		}
	}
	if len(session.ManagerOf) > 0 {
		groups = append(groups, routing.ManagersGroup)
		for _, bar := range session.ManagerOf {
			if g, err := routing.ReceivedGifts(bar); err == nil {
				groups = append(groups, g)
			}
		}
	}
	return groups
}

// ReconcileReport is the durable state a client re-reads after a gap in live
// delivery.
type ReconcileReport struct {
	Inbox         []models.InboxEntry      `json:"inbox"`
	Seats         []models.Seat            `json:"seats,omitempty"`
	HeldSeats     []models.SeatRef         `json:"held_seats,omitempty"`
	SentGifts     []models.Gift            `json:"sent_gifts,omitempty"`
	ReceivedGifts map[string][]models.Gift `json:"received_gifts,omitempty"`
}

// Reconcile performs the recovery read after a reconnect: the ledgers are the
// source of truth, live events only an accelerant. Partial results are
// returned alongside the first errors encountered.
func (c *Coordinator) Reconcile(ctx context.Context, session Session) (ReconcileReport, error) {
	var report ReconcileReport
	var errs []error

	inbox, err := c.conversations.FetchInbox(ctx, session.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("inbox: %w", err))
	}
	report.Inbox = inbox

	if session.BarID != "" {
		seats, err := c.registry.ListSeats(ctx, session.BarID)
		if err != nil {
			errs = append(errs, fmt.Errorf("seats: %w", err))
		}
		report.Seats = seats
	}

	held, err := c.registry.HeldSeats(ctx, session.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("held seats: %w", err))
	}
	report.HeldSeats = held

	sent, err := c.gifts.ListSent(ctx, session.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("sent gifts: %w", err))
	}
	report.SentGifts = sent

	if len(session.ManagerOf) > 0 {
		report.ReceivedGifts = make(map[string][]models.Gift, len(session.ManagerOf))
		for _, bar := range session.ManagerOf {
			received, err := c.gifts.ListReceived(ctx, bar, "")
			if err != nil {
				errs = append(errs, fmt.Errorf("received gifts %s: %w", bar, err))
				continue
			}
			report.ReceivedGifts[bar] = received
		}
	}

	return report, errors.Join(errs...)
}
