// Package gifts is the gift transaction ledger. Every gift is recorded as
// two rows sharing one RowKey: the sender's sent_gifts partition and the
// bar's received_gifts partition. Status lives on the bar-side row and moves
// pending -> accepted | declined exactly once; the sender-side copy follows.
package gifts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"barlink-service/internal/hub"
	"barlink-service/internal/models"
	"barlink-service/internal/observability"
	"barlink-service/internal/routing"
	"barlink-service/internal/tablestore"
	"barlink-service/internal/telemetry"
)

var (
	ErrGiftNotFound      = errors.New("gift not found")
	ErrInvalidTransition = errors.New("invalid gift status transition")
	ErrEmptyCart         = errors.New("empty gift cart")
)

const mirrorAttempts = 5

type Service struct {
	store     tablestore.Store
	publisher hub.Publisher
	audit     *telemetry.AuditEmitter
}

func New(store tablestore.Store, publisher hub.Publisher, audit *telemetry.AuditEmitter) *Service {
	return &Service{store: store, publisher: publisher, audit: audit}
}

// Order is a gift purchase as submitted by the sender.
type Order struct {
	Sender       string
	SenderSeat   string
	Receiver     string
	ReceiverSeat string
	BarID        string
	Items        string
	Price        float64
}

// CreateGift records the order as a pending gift on both ledgers and notifies
// the bar's received_gifts group. The shared RowKey ties the two rows
// together for the rest of the lifecycle.
func (s *Service) CreateGift(ctx context.Context, order Order) (models.Gift, error) {
	if strings.TrimSpace(order.Items) == "" {
		return models.Gift{}, ErrEmptyCart
	}
	sentPartition, err := routing.SentGifts(order.Sender)
	if err != nil {
		return models.Gift{}, err
	}
	receivedPartition, err := routing.ReceivedGifts(order.BarID)
	if err != nil {
		return models.Gift{}, err
	}

	gift := models.Gift{
		RowKey:       models.NewTimeKey(),
		Sender:       order.Sender,
		SenderSeat:   order.SenderSeat,
		Receiver:     order.Receiver,
		ReceiverSeat: order.ReceiverSeat,
		Items:        order.Items,
		Price:        order.Price,
		Status:       models.GiftPending,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}

	if _, err := s.store.Insert(ctx, models.Table, gift.Entity(receivedPartition), tablestore.ModeCreate); err != nil {
		return models.Gift{}, fmt.Errorf("write bar-side gift: %w", err)
	}
	if !s.mirrorRow(ctx, gift, sentPartition) {
		s.audit.EmitReconciliation(ctx, "sender-side gift write exhausted retries", map[string]string{
			"partition": sentPartition,
			"row":       gift.RowKey,
		}, 1)
	}

	s.publishStatus(ctx, receivedPartition, models.GiftStatusPayload{
		RowKey: gift.RowKey,
		Status: models.GiftPending,
		BarID:  order.BarID,
		Sender: order.Sender,
	}, gift.Timestamp)
	return gift, nil
}

// SetStatus moves a gift out of pending. The bar-side row is the arbiter:
// the transition is an ETag-conditional write, so two racing staff decisions
// resolve to one outcome. The sender-side copy is then brought in line and
// the sender's sent_gifts group notified.
func (s *Service) SetStatus(ctx context.Context, barID, rowKey string, status models.GiftStatus) (models.Gift, error) {
	if !status.Valid() || !status.Terminal() {
		return models.Gift{}, fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}
	receivedPartition, err := routing.ReceivedGifts(barID)
	if err != nil {
		return models.Gift{}, err
	}

	var gift models.Gift
	for attempt := 0; ; attempt++ {
		entity, err := s.store.Get(ctx, models.Table, receivedPartition, rowKey)
		if errors.Is(err, tablestore.ErrNotFound) {
			return models.Gift{}, ErrGiftNotFound
		}
		if err != nil {
			return models.Gift{}, err
		}

		gift = models.GiftFromEntity(entity)
		if gift.Status.Terminal() {
			// A decided gift stays decided; even repeating the same outcome
			// is rejected so callers cannot mask a lost race.
			return models.Gift{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, gift.Status, status)
		}

		_, err = s.store.Insert(ctx, models.Table, tablestore.Entity{
			PartitionKey: receivedPartition,
			RowKey:       rowKey,
			ETag:         entity.ETag,
			Props:        map[string]any{"status": string(status)},
		}, tablestore.ModeUpdate)
		if errors.Is(err, tablestore.ErrPreconditionFailed) && attempt < 2 {
			continue
		}
		if err != nil {
			return models.Gift{}, fmt.Errorf("update gift status: %w", err)
		}
		break
	}
	gift.Status = status
	gift.ETag = ""

	sentPartition, err := routing.SentGifts(gift.Sender)
	if err == nil && !s.mirrorRow(ctx, gift, sentPartition) {
		s.audit.EmitReconciliation(ctx, "sender-side gift status exhausted retries", map[string]string{
			"partition": sentPartition,
			"row":       gift.RowKey,
		}, 1)
	}

	if group, err := routing.SentGifts(gift.Sender); err == nil {
		s.publishStatus(ctx, group, models.GiftStatusPayload{
			RowKey: gift.RowKey,
			Status: status,
			BarID:  barID,
			Sender: gift.Sender,
		}, time.Now().UTC().Format(time.RFC3339Nano))
	}
	return gift, nil
}

// ListSent returns the user's gift history, newest first.
func (s *Service) ListSent(ctx context.Context, userID string) ([]models.Gift, error) {
	partition, err := routing.SentGifts(userID)
	if err != nil {
		return nil, err
	}
	return s.listPartition(ctx, partition)
}

// ListReceived returns the bar's incoming gifts, newest first. Pass a
// non-empty status to filter, e.g. the pending work queue.
func (s *Service) ListReceived(ctx context.Context, barID string, status models.GiftStatus) ([]models.Gift, error) {
	partition, err := routing.ReceivedGifts(barID)
	if err != nil {
		return nil, err
	}
	gifts, err := s.listPartition(ctx, partition)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return gifts, nil
	}
	filtered := gifts[:0]
	for _, g := range gifts {
		if g.Status == status {
			filtered = append(filtered, g)
		}
	}
	return filtered, nil
}

func (s *Service) listPartition(ctx context.Context, partition string) ([]models.Gift, error) {
	entities, err := s.store.Query(ctx, models.Table,
		fmt.Sprintf("PartitionKey eq '%s'", strings.ReplaceAll(partition, "'", "''")))
	if err != nil {
		return nil, err
	}
	gifts := make([]models.Gift, 0, len(entities))
	for _, e := range entities {
		gifts = append(gifts, models.GiftFromEntity(e))
	}
	sort.Slice(gifts, func(i, j int) bool { return gifts[i].RowKey > gifts[j].RowKey })
	return gifts, nil
}

func (s *Service) mirrorRow(ctx context.Context, gift models.Gift, partition string) bool {
	for attempt := 0; attempt < mirrorAttempts; attempt++ {
		if _, err := s.store.Insert(ctx, models.Table, gift.Entity(partition), tablestore.ModeUpsert); err == nil {
			return true
		}
		observability.IncSagaRetry("gifts")
	}
	return false
}

func (s *Service) publishStatus(ctx context.Context, group string, payload models.GiftStatusPayload, timestamp string) {
	_ = s.publisher.Publish(ctx, models.Event{
		Kind:      models.EventGiftStatus,
		Group:     group,
		Sender:    payload.Sender,
		Payload:   models.MarshalPayload(payload),
		Timestamp: timestamp,
	})
}
