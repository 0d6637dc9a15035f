// Package config loads connection and room configuration from TOML
// (component M), mirroring spec.md §6's Option table field for field.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wisp-net/shroomlink/crypto/igctx"
	"github.com/wisp-net/shroomlink/crypto/packetcrypto"
)

// Config is a connection's configuration (spec.md §6's Option table).
// Load builds CryptoCtx from the hex-encoded shuffle table, seed, and AES
// key in the TOML document's [crypto] table.
type Config struct {
	CryptoCtx           *packetcrypto.CryptoContext
	MigrateDelay        time.Duration
	PingPacket          []byte
	PingInterval        time.Duration
	MsgCap              int
	ExternalPipeBytes   int
	ExternalPipeFrames  int
	TickDuration        time.Duration
}

// RoomConfig is the spawn-time configuration for a room (spec.md §6).
type RoomConfig struct {
	RoomInputCap  int
	BroadcastCap  int
}

// fileConfig is the raw TOML document shape; duration and byte-blob
// fields are strings, converted in Load.
type fileConfig struct {
	Crypto struct {
		ShuffleTableHex string `toml:"shuffle_table_hex"`
		SeedHex         string `toml:"seed_hex"`
		AESKeyHex       string `toml:"aes_key_hex"`
		Legacy          bool   `toml:"legacy"`
	} `toml:"crypto"`

	Connection struct {
		MigrateDelay       string `toml:"migrate_delay"`
		PingPacketHex      string `toml:"ping_packet_hex"`
		PingInterval       string `toml:"ping_interval"`
		MsgCap             int    `toml:"msg_cap"`
		ExternalPipeBytes  int    `toml:"external_pipe_bytes"`
		ExternalPipeFrames int    `toml:"external_pipe_frames"`
		TickDuration       string `toml:"tick_duration"`
	} `toml:"connection"`

	Room struct {
		RoomInputCap int `toml:"room_input_cap"`
		BroadcastCap int `toml:"broadcast_cap"`
	} `toml:"room"`
}

// Load parses a TOML configuration file into a Config and RoomConfig.
func Load(path string) (*Config, *RoomConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(raw), &fc); err != nil {
		return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	shuffle, err := decodeShuffle(fc.Crypto.ShuffleTableHex)
	if err != nil {
		return nil, nil, err
	}
	seed, err := decodeSeed(fc.Crypto.SeedHex)
	if err != nil {
		return nil, nil, err
	}
	aesKey, err := hex.DecodeString(fc.Crypto.AESKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("config: aes_key_hex: %w", err)
	}

	cryptoCtx, err := packetcrypto.NewCryptoContext(shuffle, seed, aesKey)
	if err != nil {
		return nil, nil, err
	}
	cryptoCtx.WithLegacyMode(fc.Crypto.Legacy)

	migrateDelay, err := time.ParseDuration(fc.Connection.MigrateDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("config: migrate_delay: %w", err)
	}
	pingInterval, err := time.ParseDuration(fc.Connection.PingInterval)
	if err != nil {
		return nil, nil, fmt.Errorf("config: ping_interval: %w", err)
	}
	tickDuration, err := time.ParseDuration(fc.Connection.TickDuration)
	if err != nil {
		return nil, nil, fmt.Errorf("config: tick_duration: %w", err)
	}
	pingPacket, err := hex.DecodeString(fc.Connection.PingPacketHex)
	if err != nil {
		return nil, nil, fmt.Errorf("config: ping_packet_hex: %w", err)
	}

	cfg := &Config{
		CryptoCtx:          cryptoCtx,
		MigrateDelay:       migrateDelay,
		PingPacket:         pingPacket,
		PingInterval:       pingInterval,
		MsgCap:             fc.Connection.MsgCap,
		ExternalPipeBytes:  fc.Connection.ExternalPipeBytes,
		ExternalPipeFrames: fc.Connection.ExternalPipeFrames,
		TickDuration:       tickDuration,
	}
	room := &RoomConfig{
		RoomInputCap: fc.Room.RoomInputCap,
		BroadcastCap: fc.Room.BroadcastCap,
	}
	return cfg, room, nil
}

func decodeShuffle(s string) ([igctx.TableSize]byte, error) {
	var out [igctx.TableSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("config: shuffle_table_hex: %w", err)
	}
	if len(b) != igctx.TableSize {
		return out, fmt.Errorf("config: shuffle_table_hex: want %d bytes, got %d", igctx.TableSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeSeed(s string) (igctx.Seed, error) {
	var out igctx.Seed
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("config: seed_hex: %w", err)
	}
	if len(b) != 4 {
		return out, fmt.Errorf("config: seed_hex: want 4 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
