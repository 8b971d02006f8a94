package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/cyberinferno/plankton/devserver"
	"github.com/cyberinferno/plankton/protocol"
	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceID(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		want := bytes.Repeat([]byte{0xAB}, protocol.DeviceSize)
		got, err := deviceID(hex.EncodeToString(want), "ignored")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("bad hex", func(t *testing.T) {
		_, err := deviceID("zz", "")
		assert.Error(t, err)
		_, err = deviceID("abcd", "")
		assert.Error(t, err)
	})

	t.Run("name is stable", func(t *testing.T) {
		a, err := deviceID("", "alice")
		require.NoError(t, err)
		b, err := deviceID("", "alice")
		require.NoError(t, err)
		c, err := deviceID("", "bob")
		require.NoError(t, err)

		assert.Len(t, a, protocol.DeviceSize)
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
	})

	t.Run("random", func(t *testing.T) {
		a, err := deviceID("", "")
		require.NoError(t, err)
		b, err := deviceID("", "")
		require.NoError(t, err)
		assert.Len(t, a, protocol.DeviceSize)
		assert.NotEqual(t, a, b)
	})
}

func TestNewParser_Commands(t *testing.T) {
	a := &app{}
	parser := newParser(a)
	var ran flags.Commander
	parser.CommandHandler = func(cmd flags.Commander, _ []string) error {
		ran = cmd
		return nil
	}

	serve := parser.Find("serve")
	require.NotNil(t, serve)
	connect := parser.Find("connect")
	require.NotNil(t, connect)

	_, err := parser.ParseArgs([]string{"--log-level", "debug", "serve", "--listen", "127.0.0.1:0", "--max-rooms", "8"})
	require.NoError(t, err)
	assert.Equal(t, "debug", a.opts.LogLevel)

	cmd, ok := ran.(*serveCommand)
	require.True(t, ok)
	assert.Equal(t, 8, cmd.config().MaxRooms)
	assert.Equal(t, 256, cmd.config().LobbyCapacity)
}

func TestRenderRooms(t *testing.T) {
	var out bytes.Buffer
	renderRooms(&out, devserver.Stats{Sessions: 3, Rooms: 1, Players: 2}, []devserver.RoomStats{
		{ID: 4, Players: 2, Capacity: 16, Master: 1, Open: true},
	})

	text := out.String()
	assert.Contains(t, text, "sessions: 3")
	assert.Contains(t, text, "2/16")
	assert.Contains(t, text, "Yes")
}
