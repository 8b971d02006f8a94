package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_Err(t *testing.T) {
	t.Run("ok is nil", func(t *testing.T) {
		assert.NoError(t, CodeOK.Err())
	})

	t.Run("known codes map to sentinels", func(t *testing.T) {
		assert.ErrorIs(t, CodeExpired.Err(), ErrExpired)
		assert.ErrorIs(t, CodeFull.Err(), ErrRoomFull)
		assert.ErrorIs(t, CodeMatchmaking.Err(), ErrMatchmaking)
	})

	t.Run("unknown code is invalid", func(t *testing.T) {
		err := Code(42).Err()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeExpired, CodeOf(ErrExpired))
	assert.Equal(t, CodeFull, CodeOf(errors.Join(assert.AnError, ErrRoomFull)))
	assert.Equal(t, CodeMatchmaking, CodeOf(ErrMatchmaking))
	assert.Equal(t, Code(-1), CodeOf(assert.AnError))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "Login", KindLogin.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
	assert.True(t, KindUnreliable.IsMessage())
	assert.True(t, KindReliable.IsMessage())
	assert.False(t, KindPing.IsMessage())
}

func TestMatchmakingRange_Contains(t *testing.T) {
	p := MatchmakingParams{A: 1, B: 2, C: 3, D: 4}

	t.Run("exact range matches", func(t *testing.T) {
		assert.True(t, Exact(p).Contains(p))
	})

	t.Run("one attribute out of range fails", func(t *testing.T) {
		r := Exact(p)
		r.DMax = 3
		r.DMin = 0
		assert.False(t, r.Contains(p))
	})

	t.Run("wide range matches", func(t *testing.T) {
		r := MatchmakingRange{AMin: -10, AMax: 10, BMin: -10, BMax: 10, CMin: -10, CMax: 10, DMin: -10, DMax: 10}
		assert.True(t, r.Contains(p))
	})
}

func TestRoomEntry(t *testing.T) {
	e := NewRoomEntry(-2, 3, 16)
	assert.Equal(t, int16(-2), e.RoomID())
	assert.Equal(t, uint8(3), e.Players())
	assert.Equal(t, uint8(16), e.Capacity())
	assert.False(t, e.Full())
	assert.True(t, NewRoomEntry(1, 16, 16).Full())
}

func TestValidPlayer(t *testing.T) {
	assert.True(t, ValidPlayer(0))
	assert.True(t, ValidPlayer(MaxPlayers-1))
	assert.False(t, ValidPlayer(MaxPlayers))
	assert.False(t, ValidPlayer(NoPlayer))
}

func TestFlags_Has(t *testing.T) {
	assert.True(t, FlagMaster.Has(FlagMaster))
	assert.False(t, Flags(0).Has(FlagMaster))
}
