// Package routing builds the group names shared by the table store partitions
// and the hub pub/sub channels. Constructors validate components so an
// identifier containing the ';' delimiter can never collide with another key.
package routing

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidComponent = errors.New("invalid routing key component")

const delimiter = ";"

// Well-known global groups.
const (
	SeatsChangeGroup = "seatsChange"
	ManagersGroup    = "Managers"
)

func validate(components ...string) error {
	for _, c := range components {
		if c == "" {
			return fmt.Errorf("%w: empty component", ErrInvalidComponent)
		}
		if strings.Contains(c, delimiter) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidComponent, c, delimiter)
		}
	}
	return nil
}

// ChatPair is the key of a two-user thread; the pair is sorted so both
// participants derive the same key.
func ChatPair(userA, userB string) (string, error) {
	if err := validate(userA, userB); err != nil {
		return "", err
	}
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + delimiter + userB, nil
}

// UserInbox is the key of a user's conversation-summary partition and the
// private group their inbox updates arrive on.
func UserInbox(user string) (string, error) {
	if err := validate(user); err != nil {
		return "", err
	}
	return user + delimiter + "chat", nil
}

// SentGifts keys the sender-side gift partition and notification group.
func SentGifts(user string) (string, error) {
	if err := validate(user); err != nil {
		return "", err
	}
	return user + delimiter + "sent_gifts", nil
}

// ReceivedGifts keys the bar-side gift partition and notification group.
func ReceivedGifts(barID string) (string, error) {
	if err := validate(barID); err != nil {
		return "", err
	}
	return barID + delimiter + "received_gifts", nil
}

// BarSeats is the bar-scoped seat-occupancy group.
func BarSeats(barID string) (string, error) {
	if err := validate(barID); err != nil {
		return "", err
	}
	return barID + delimiter + "seats", nil
}
