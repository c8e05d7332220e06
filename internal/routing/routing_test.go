package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatPairIsOrderIndependent(t *testing.T) {
	a, err := ChatPair("zoe@x.com", "amy@x.com")
	require.NoError(t, err)
	b, err := ChatPair("amy@x.com", "zoe@x.com")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "amy@x.com;zoe@x.com", a)
}

func TestKeyShapes(t *testing.T) {
	inbox, err := UserInbox("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1;chat", inbox)

	sent, err := SentGifts("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1;sent_gifts", sent)

	received, err := ReceivedGifts("bar1")
	require.NoError(t, err)
	assert.Equal(t, "bar1;received_gifts", received)

	seats, err := BarSeats("bar1")
	require.NoError(t, err)
	assert.Equal(t, "bar1;seats", seats)
}

func TestDelimiterInComponentRejected(t *testing.T) {
	_, err := UserInbox("u1;chat")
	assert.ErrorIs(t, err, ErrInvalidComponent)

	_, err = ChatPair("a;b", "c")
	assert.ErrorIs(t, err, ErrInvalidComponent)

	_, err = ReceivedGifts("")
	assert.ErrorIs(t, err, ErrInvalidComponent)
}
