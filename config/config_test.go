package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisp-net/shroomlink/crypto/igctx"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func shuffleTableHex() string {
	shuffle := make([]byte, igctx.TableSize)
	for i := range shuffle {
		shuffle[i] = byte(i)
	}
	return hex.EncodeToString(shuffle)
}

func validConfigTOML() string {
	seed := []byte{1, 2, 3, 4}
	aesKey := make([]byte, 32)
	for i := range aesKey {
		aesKey[i] = byte(i * 3)
	}

	var b strings.Builder
	b.WriteString("[crypto]\n")
	b.WriteString("shuffle_table_hex = \"" + shuffleTableHex() + "\"\n")
	b.WriteString("seed_hex = \"" + hex.EncodeToString(seed) + "\"\n")
	b.WriteString("aes_key_hex = \"" + hex.EncodeToString(aesKey) + "\"\n")
	b.WriteString("legacy = false\n\n")
	b.WriteString("[connection]\n")
	b.WriteString("migrate_delay = \"5s\"\n")
	b.WriteString("ping_packet_hex = \"0011\"\n")
	b.WriteString("ping_interval = \"30s\"\n")
	b.WriteString("msg_cap = 256\n")
	b.WriteString("external_pipe_bytes = 65536\n")
	b.WriteString("external_pipe_frames = 64\n")
	b.WriteString("tick_duration = \"1s\"\n\n")
	b.WriteString("[room]\n")
	b.WriteString("room_input_cap = 32\n")
	b.WriteString("broadcast_cap = 32\n")
	return b.String()
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfigTOML())

	cfg, room, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.CryptoCtx)
	require.Equal(t, 5*time.Second, cfg.MigrateDelay)
	require.Equal(t, []byte{0x00, 0x11}, cfg.PingPacket)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.Equal(t, 256, cfg.MsgCap)
	require.Equal(t, 65536, cfg.ExternalPipeBytes)
	require.Equal(t, 64, cfg.ExternalPipeFrames)
	require.Equal(t, time.Second, cfg.TickDuration)

	require.Equal(t, 32, room.RoomInputCap)
	require.Equal(t, 32, room.BroadcastCap)
}

func TestLoadRejectsWrongShuffleTableLength(t *testing.T) {
	body := strings.Replace(validConfigTOML(), shuffleTableHex(), "abcd", 1)
	path := writeTestConfig(t, body)

	_, _, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	body := strings.Replace(validConfigTOML(), `migrate_delay = "5s"`, `migrate_delay = "not-a-duration"`, 1)
	path := writeTestConfig(t, body)

	_, _, err := Load(path)
	require.Error(t, err)
}
