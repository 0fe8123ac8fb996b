package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
	}{
		{"bid", SideBid},
		{"B", SideBid},
		{"buy", SideBid},
		{" Ask ", SideAsk},
		{"a", SideAsk},
		{"SELL", SideAsk},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSide("sideways")
	assert.ErrorIs(t, err, ErrInvalidSide)
	assert.Equal(t, KindProtocolError, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindOrderNotFound, KindOf(fmt.Errorf("cancel 7: %w", ErrOrderNotFound)))
	assert.Equal(t, KindInvalidPrice, KindOf(ErrInvalidPrice))
	assert.Equal(t, KindOverloaded, KindOf(ErrSequencerStopped))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrInvalidQuantity))
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", ErrPriceLevelNotFound)))
	assert.False(t, IsValidation(ErrProtocol))
	assert.False(t, IsValidation(ErrOrderIDExhausted))
}

func TestErrorForKind(t *testing.T) {
	assert.Equal(t, ErrOrderNotFound, ErrorForKind(KindOrderNotFound))
	assert.Equal(t, ErrSessionTimeout, ErrorForKind(KindSessionTimeout))
	assert.Equal(t, ErrProtocol, ErrorForKind(KindProtocolError))
	assert.Nil(t, ErrorForKind(KindInternal))
}

func TestCommandKindMutating(t *testing.T) {
	assert.True(t, CommandPlace.Mutating())
	assert.True(t, CommandAmend.Mutating())
	assert.True(t, CommandCancel.Mutating())
	assert.False(t, CommandSnapshot.Mutating())
	assert.False(t, CommandSubscribe.Mutating())
}
