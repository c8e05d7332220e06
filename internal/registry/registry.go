// Package registry owns seat occupancy: exclusive first-writer-wins claims,
// releases, and the denormalized per-user seat index. Seat.connectedUser is
// authoritative; the index is a reconcilable cache and never used for
// conflict resolution.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barlink-service/internal/hub"
	"barlink-service/internal/models"
	"barlink-service/internal/observability"
	"barlink-service/internal/routing"
	"barlink-service/internal/tablestore"
	"barlink-service/internal/telemetry"
)

var (
	ErrSeatNotFound    = errors.New("seat not found")
	ErrSeatExists      = errors.New("seat already exists")
	ErrAlreadyOccupied = errors.New("seat already occupied")
)

const (
	claimAttempts = 3
	indexAttempts = 5
)

type Registry struct {
	store     tablestore.Store
	publisher hub.Publisher
	audit     *telemetry.AuditEmitter
}

func New(store tablestore.Store, publisher hub.Publisher, audit *telemetry.AuditEmitter) *Registry {
	return &Registry{store: store, publisher: publisher, audit: audit}
}

// ClaimResult reports a successful claim. AlreadyOwned marks the idempotent
// case where the caller held the seat before the call.
type ClaimResult struct {
	Seat         models.Seat
	AlreadyOwned bool
}

// ClaimSeat assigns the seat to the user. The occupancy write is conditional
// on the ETag of the row the decision was made from, so two concurrent
// claimants on an empty seat resolve to exactly one winner; the loser gets
// ErrAlreadyOccupied.
func (r *Registry) ClaimSeat(ctx context.Context, barID, seatID, userID string) (ClaimResult, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		entity, err := r.store.Get(ctx, models.Table, barID, seatID)
		if errors.Is(err, tablestore.ErrNotFound) {
			return ClaimResult{}, ErrSeatNotFound
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("read seat: %w", err)
		}

		seat := models.SeatFromEntity(entity)
		if seat.ConnectedUser == userID {
			// Idempotent success; make sure the index agrees.
			r.addToIndex(ctx, userID, barID, seatID)
			return ClaimResult{Seat: seat, AlreadyOwned: true}, nil
		}
		if seat.ConnectedUser != "" {
			return ClaimResult{}, ErrAlreadyOccupied
		}

		_, err = r.store.Insert(ctx, models.Table, tablestore.Entity{
			PartitionKey: barID,
			RowKey:       seatID,
			ETag:         entity.ETag,
			Props:        map[string]any{"connectedUser": userID},
		}, tablestore.ModeUpdate)
		if errors.Is(err, tablestore.ErrPreconditionFailed) {
			// Lost the race; re-read and re-decide.
			observability.IncSeatClaimConflict()
			continue
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("claim seat: %w", err)
		}

		seat.ConnectedUser = userID
		r.addToIndex(ctx, userID, barID, seatID)
		r.publishSeatChange(ctx, "connectSeat", barID, seatID, userID)
		return ClaimResult{Seat: seat}, nil
	}
	return ClaimResult{}, ErrAlreadyOccupied
}

// ReleaseSeat clears the seat when held by the user. Releasing a seat the
// user does not hold, or one that does not exist, is a no-op.
func (r *Registry) ReleaseSeat(ctx context.Context, barID, seatID, userID string) error {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		entity, err := r.store.Get(ctx, models.Table, barID, seatID)
		if errors.Is(err, tablestore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read seat: %w", err)
		}

		if models.SeatFromEntity(entity).ConnectedUser != userID {
			return nil
		}

		_, err = r.store.Insert(ctx, models.Table, tablestore.Entity{
			PartitionKey: barID,
			RowKey:       seatID,
			ETag:         entity.ETag,
			Props:        map[string]any{"connectedUser": ""},
		}, tablestore.ModeUpdate)
		if errors.Is(err, tablestore.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return fmt.Errorf("release seat: %w", err)
		}

		r.removeFromIndex(ctx, userID, barID, seatID)
		r.publishSeatChange(ctx, "disconnectSeat", barID, seatID, userID)
		return nil
	}
	return nil
}

// SwitchSeat releases the user's current seat in the bar, if any, then claims
// the new one. Exposed as one call so callers never sequence the two steps
// themselves.
func (r *Registry) SwitchSeat(ctx context.Context, barID, newSeatID, userID string) (ClaimResult, error) {
	if current, ok := r.currentSeatIn(ctx, userID, barID); ok && current != newSeatID {
		if err := r.ReleaseSeat(ctx, barID, current, userID); err != nil {
			return ClaimResult{}, err
		}
	}
	return r.ClaimSeat(ctx, barID, newSeatID, userID)
}

func (r *Registry) currentSeatIn(ctx context.Context, userID, barID string) (string, bool) {
	entity, err := r.store.Get(ctx, models.Table, models.UsersPartition, userID)
	if err != nil {
		return "", false
	}
	for _, ref := range models.ParseConnectedSeats(entity.String("connectedSeats")) {
		if ref.BarID == barID {
			return ref.SeatID, true
		}
	}
	return "", false
}

// FetchSeat returns a seat row.
func (r *Registry) FetchSeat(ctx context.Context, barID, seatID string) (models.Seat, error) {
	entity, err := r.store.Get(ctx, models.Table, barID, seatID)
	if errors.Is(err, tablestore.ErrNotFound) {
		return models.Seat{}, ErrSeatNotFound
	}
	if err != nil {
		return models.Seat{}, err
	}
	return models.SeatFromEntity(entity), nil
}

// ListSeats returns every seat of a bar.
func (r *Registry) ListSeats(ctx context.Context, barID string) ([]models.Seat, error) {
	entities, err := r.store.Query(ctx, models.Table, fmt.Sprintf("PartitionKey eq '%s'", quote(barID)))
	if err != nil {
		return nil, err
	}
	seats := make([]models.Seat, 0, len(entities))
	for _, e := range entities {
		seats = append(seats, models.SeatFromEntity(e))
	}
	return seats, nil
}

// CreateSeat adds an empty seat to the venue layout.
func (r *Registry) CreateSeat(ctx context.Context, barID, seatID string, x, y float64) (models.Seat, error) {
	seat := models.Seat{BarID: barID, SeatID: seatID, X: x, Y: y}
	_, err := r.store.Insert(ctx, models.Table, seat.Entity(), tablestore.ModeCreate)
	if errors.Is(err, tablestore.ErrEntityExists) {
		return models.Seat{}, ErrSeatExists
	}
	if err != nil {
		return models.Seat{}, err
	}
	return seat, nil
}

// MoveSeat updates a seat's position on the venue map.
func (r *Registry) MoveSeat(ctx context.Context, barID, seatID string, x, y float64) error {
	_, err := r.store.Insert(ctx, models.Table, tablestore.Entity{
		PartitionKey: barID,
		RowKey:       seatID,
		Props:        map[string]any{"x": x, "y": y},
	}, tablestore.ModeUpdate)
	if errors.Is(err, tablestore.ErrNotFound) {
		return ErrSeatNotFound
	}
	return err
}

// DeleteSeat removes a seat from the layout.
func (r *Registry) DeleteSeat(ctx context.Context, barID, seatID string) error {
	err := r.store.Delete(ctx, models.Table, barID, seatID)
	if errors.Is(err, tablestore.ErrNotFound) {
		return ErrSeatNotFound
	}
	return err
}

// ReconcileIndex rebuilds the user's connectedSeats cache from the
// authoritative seat rows.
func (r *Registry) ReconcileIndex(ctx context.Context, userID string) error {
	entities, err := r.store.Query(ctx, models.Table,
		fmt.Sprintf("connectedUser eq '%s'", quote(userID)))
	if err != nil {
		return err
	}
	refs := make([]models.SeatRef, 0, len(entities))
	for _, e := range entities {
		refs = append(refs, models.SeatRef{BarID: e.PartitionKey, SeatID: e.RowKey})
	}
	_, err = r.store.Insert(ctx, models.Table, tablestore.Entity{
		PartitionKey: models.UsersPartition,
		RowKey:       userID,
		Props:        map[string]any{"connectedSeats": models.FormatConnectedSeats(refs)},
	}, tablestore.ModeUpsert)
	return err
}

// HeldSeats returns the user's seats across venues, per the index.
func (r *Registry) HeldSeats(ctx context.Context, userID string) ([]models.SeatRef, error) {
	entity, err := r.store.Get(ctx, models.Table, models.UsersPartition, userID)
	if errors.Is(err, tablestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return models.ParseConnectedSeats(entity.String("connectedSeats")), nil
}

// addToIndex unions the pair into the user's connectedSeats set. The write is
// ETag-conditional to avoid losing concurrent updates; on retry exhaustion
// the divergence is handed to reconciliation rather than dropped.
func (r *Registry) addToIndex(ctx context.Context, userID, barID, seatID string) {
	r.mutateIndex(ctx, userID, func(refs []models.SeatRef) []models.SeatRef {
		for _, ref := range refs {
			if ref.BarID == barID && ref.SeatID == seatID {
				return refs
			}
		}
		return append(refs, models.SeatRef{BarID: barID, SeatID: seatID})
	})
}

func (r *Registry) removeFromIndex(ctx context.Context, userID, barID, seatID string) {
	r.mutateIndex(ctx, userID, func(refs []models.SeatRef) []models.SeatRef {
		out := refs[:0]
		for _, ref := range refs {
			if ref.BarID == barID && ref.SeatID == seatID {
				continue
			}
			out = append(out, ref)
		}
		return out
	})
}

func (r *Registry) mutateIndex(ctx context.Context, userID string, mutate func([]models.SeatRef) []models.SeatRef) {
	for attempt := 0; attempt < indexAttempts; attempt++ {
		entity, err := r.store.Get(ctx, models.Table, models.UsersPartition, userID)
		if err != nil && !errors.Is(err, tablestore.ErrNotFound) {
			observability.IncSagaRetry("seat_index")
			continue
		}

		refs := mutate(models.ParseConnectedSeats(entity.String("connectedSeats")))
		update := tablestore.Entity{
			PartitionKey: models.UsersPartition,
			RowKey:       userID,
			ETag:         entity.ETag,
			Props:        map[string]any{"connectedSeats": models.FormatConnectedSeats(refs)},
		}
		mode := tablestore.ModeUpdate
		if entity.ETag == "" {
			mode = tablestore.ModeUpsert
		}
		if _, err := r.store.Insert(ctx, models.Table, update, mode); err != nil {
			observability.IncSagaRetry("seat_index")
			continue
		}
		return
	}
	r.audit.EmitReconciliation(ctx, "seat index update exhausted retries", map[string]string{
		"partition": models.UsersPartition,
		"row":       userID,
	}, 1)
}

func (r *Registry) publishSeatChange(ctx context.Context, action, barID, seatID, userID string) {
	payload := models.MarshalPayload(models.SeatChangePayload{
		Action: action,
		BarID:  barID,
		SeatID: seatID,
		UserID: userID,
	})
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	groups := []string{routing.SeatsChangeGroup}
	if barGroup, err := routing.BarSeats(barID); err == nil {
		groups = append(groups, barGroup)
	}
	for _, group := range groups {
		_ = r.publisher.Publish(ctx, models.Event{
			Kind:      models.EventSeatChange,
			Group:     group,
			Sender:    userID,
			Payload:   payload,
			Timestamp: timestamp,
		})
	}
}

// quote doubles embedded single quotes for filter literals.
func quote(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
