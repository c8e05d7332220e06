// Package conversations is the chat ledger: durable per-pair message threads
// plus a denormalized per-user inbox. Messages persist before any fan-out, so
// a subscriber that misses the live event still finds the row on its next
// read.
package conversations

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
	ErrEmptyMessage = errors.New("empty message")

	// ErrPartialWrite reports that the message row landed but at least one
	// inbox row did not, despite retries. The thread itself is intact.
	ErrPartialWrite = errors.New("partial conversation write")
)

const inboxAttempts = 5

type Service struct {
	store     tablestore.Store
	publisher hub.Publisher
	audit     *telemetry.AuditEmitter
}

func New(store tablestore.Store, publisher hub.Publisher, audit *telemetry.AuditEmitter) *Service {
	return &Service{store: store, publisher: publisher, audit: audit}
}

// SendMessage appends a message to the pair's thread and refreshes both inbox
// summaries. The sender's summary is born read, the recipient's unread.
// Events go out only after every row is written.
func (s *Service) SendMessage(ctx context.Context, sender, recipient, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	pairKey, err := routing.ChatPair(sender, recipient)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg := models.ChatMessage{
		PairKey:   pairKey,
		RowKey:    models.NewTimeKey(),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.store.Insert(ctx, models.Table, msg.Entity(), tablestore.ModeCreate); err != nil {
		return models.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}

	failed := 0
	if !s.upsertInbox(ctx, recipient, sender, text, msg.RowKey, false) {
		failed++
	}
	if !s.upsertInbox(ctx, sender, recipient, text, msg.RowKey, true) {
		failed++
	}
	if failed > 0 {
		s.audit.EmitReconciliation(ctx, "inbox update exhausted retries", map[string]string{
			"pair":   pairKey,
			"row":    msg.RowKey,
			"sender": sender,
		}, failed)
		return msg, ErrPartialWrite
	}

	s.publishMessage(ctx, msg, recipient)
	return msg, nil
}

// MarkRead flags the owner's summary of the conversation with counterpart as
// read. Marking an already-read or missing summary is a no-op. The read notice
// goes to both inbox groups so the counterpart learns their message was seen.
func (s *Service) MarkRead(ctx context.Context, owner, counterpart string) error {
	partition, err := routing.UserInbox(owner)
	if err != nil {
		return err
	}
	entity, err := s.store.Get(ctx, models.Table, partition, counterpart)
	if errors.Is(err, tablestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if entity.Bool("isRead") {
		return nil
	}

	_, err = s.store.Insert(ctx, models.Table, tablestore.Entity{
		PartitionKey: partition,
		RowKey:       counterpart,
		Props:        map[string]any{"isRead": true},
	}, tablestore.ModeUpdate)
	if err != nil && !errors.Is(err, tablestore.ErrNotFound) {
		return err
	}

	pairKey, err := routing.ChatPair(owner, counterpart)
	if err != nil {
		return nil
	}
	groups := []string{partition}
	if counterGroup, err := routing.UserInbox(counterpart); err == nil {
		groups = append(groups, counterGroup)
	}
	payload := models.MarshalPayload(models.ChatMessagePayload{
		PairKey: pairKey,
		Sender:  counterpart,
		Read:    true,
	})
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, group := range groups {
		_ = s.publisher.Publish(ctx, models.Event{
			Kind:      models.EventChatMessage,
			Group:     group,
			Sender:    owner,
			Receiver:  counterpart,
			Payload:   payload,
			Timestamp: timestamp,
		})
	}
	return nil
}

// FetchThread returns the full pair thread in chronological order.
func (s *Service) FetchThread(ctx context.Context, userA, userB string) ([]models.ChatMessage, error) {
	pairKey, err := routing.ChatPair(userA, userB)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.Query(ctx, models.Table,
		fmt.Sprintf("PartitionKey eq '%s'", escapeQuotes(pairKey)))
	if err != nil {
		return nil, err
	}
	messages := make([]models.ChatMessage, 0, len(entities))
	for _, e := range entities {
		messages = append(messages, models.ChatMessageFromEntity(e))
	}
	return messages, nil
}

// FetchInbox returns the owner's conversation summaries, most recent first.
func (s *Service) FetchInbox(ctx context.Context, owner string) ([]models.InboxEntry, error) {
	partition, err := routing.UserInbox(owner)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.Query(ctx, models.Table,
		fmt.Sprintf("PartitionKey eq '%s'", escapeQuotes(partition)))
	if err != nil {
		return nil, err
	}
	entries := make([]models.InboxEntry, 0, len(entities))
	for _, e := range entities {
		entries = append(entries, models.InboxEntryFromEntity(owner, e))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastTimestamp > entries[j].LastTimestamp
	})
	return entries, nil
}

// upsertInbox writes one (owner, counterpart) summary row into the owner's
// "{owner};chat" partition, retrying through transient store failures.
// Reports whether the row landed.
func (s *Service) upsertInbox(ctx context.Context, owner, counterpart, text, timeKey string, read bool) bool {
	partition, err := routing.UserInbox(owner)
	if err != nil {
		return false
	}
	entity := tablestore.Entity{
		PartitionKey: partition,
		RowKey:       counterpart,
		Props: map[string]any{
			"counterpartName": s.displayName(ctx, counterpart),
			"Message":         text,
			"lastTimestamp":   timeKey,
			"isRead":          read,
		},
	}
	for attempt := 0; attempt < inboxAttempts; attempt++ {
		if _, err := s.store.Insert(ctx, models.Table, entity, tablestore.ModeUpsert); err == nil {
			return true
		}
		observability.IncSagaRetry("inbox")
	}
	return false
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	entity, err := s.store.Get(ctx, models.Table, models.UsersPartition, userID)
	if err != nil {
		return userID
	}
	profile := models.ProfileFromEntity(entity)
	return profile.DisplayName()
}

func (s *Service) publishMessage(ctx context.Context, msg models.ChatMessage, recipient string) {
	payload := models.MarshalPayload(models.ChatMessagePayload{
		PairKey: msg.PairKey,
		RowKey:  msg.RowKey,
		Sender:  msg.Sender,
		Text:    msg.Text,
	})

	groups := []string{msg.PairKey}
	for _, user := range []string{msg.Sender, recipient} {
		if group, err := routing.UserInbox(user); err == nil {
			groups = append(groups, group)
		}
	}
	for _, group := range groups {
		_ = s.publisher.Publish(ctx, models.Event{
			Kind:      models.EventChatMessage,
			Group:     group,
			Sender:    msg.Sender,
			Receiver:  recipient,
			Payload:   payload,
			Timestamp: msg.Timestamp,
		})
	}
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
