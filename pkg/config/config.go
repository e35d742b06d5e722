// Package config loads node configuration files.
//
// YAML (.yaml, .yml) and TOML (.toml) are supported and carry the same keys:
//
//	listen: ":9993"
//	log_level: info
//	metrics_addr: "127.0.0.1:9100"
//	private_key: <hex P-384 private key>
//	session:
//	  rekey_after_uses: 300000
//	  mtu: 1400
//	peers:
//	  - name: bob
//	    public_key: <hex 97-byte public key>
//	    address: "10.0.0.2:9993"
//	    connect: true
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/session"
	"github.com/backkem/zssp/pkg/zssp"
)

// Format identifies a configuration file syntax.
type Format int

const (
	// FormatYAML is YAML.
	FormatYAML Format = iota
	// FormatTOML is TOML.
	FormatTOML
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	default:
		return "unknown"
	}
}

// Config errors.
var (
	// ErrUnknownFormat is returned for a file extension that is neither
	// YAML nor TOML.
	ErrUnknownFormat = errors.New("config: unknown file format")

	// ErrInvalid is returned when a configuration value is out of range.
	ErrInvalid = errors.New("config: invalid configuration")

	// ErrNoIdentity is returned when neither private_key nor
	// private_key_file is set.
	ErrNoIdentity = errors.New("config: no private key configured")
)

// SessionConfig mirrors session.Params. Zero values use the defaults.
type SessionConfig struct {
	RekeyAfterUses               uint64 `yaml:"rekey_after_uses" toml:"rekey_after_uses"`
	ExpireAfterUses              uint64 `yaml:"expire_after_uses" toml:"expire_after_uses"`
	RekeyAfterTimeMs             int64  `yaml:"rekey_after_time_ms" toml:"rekey_after_time_ms"`
	RekeyAfterTimeMaxJitterMs    int64  `yaml:"rekey_after_time_max_jitter_ms" toml:"rekey_after_time_max_jitter_ms"`
	RetryIntervalMs              int64  `yaml:"retry_interval_ms" toml:"retry_interval_ms"`
	IncomingNegotiationTimeoutMs int64  `yaml:"incoming_negotiation_timeout_ms" toml:"incoming_negotiation_timeout_ms"`
	OutgoingNegotiationTimeoutMs int64  `yaml:"outgoing_negotiation_timeout_ms" toml:"outgoing_negotiation_timeout_ms"`
	MTU                          int    `yaml:"mtu" toml:"mtu"`
	ReplayWindowSize             int    `yaml:"replay_window_size" toml:"replay_window_size"`
	MaxMessagesInFlight          int    `yaml:"max_messages_in_flight" toml:"max_messages_in_flight"`
	FragmentTimeoutMs            int64  `yaml:"fragment_timeout_ms" toml:"fragment_timeout_ms"`
	MaxAuthFailures              int    `yaml:"max_auth_failures" toml:"max_auth_failures"`
}

// Peer is a known remote identity.
type Peer struct {
	Name         string `yaml:"name" toml:"name"`
	PublicKey    string `yaml:"public_key" toml:"public_key"`
	PreSharedKey string `yaml:"pre_shared_key" toml:"pre_shared_key"`
	Address      string `yaml:"address" toml:"address"`
	// Connect opens a session to Address at startup.
	Connect bool `yaml:"connect" toml:"connect"`
}

// File is the content of a configuration file.
type File struct {
	Listen         string        `yaml:"listen" toml:"listen"`
	LogLevel       string        `yaml:"log_level" toml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_addr" toml:"metrics_addr"`
	PrivateKey     string        `yaml:"private_key" toml:"private_key"`
	PrivateKeyFile string        `yaml:"private_key_file" toml:"private_key_file"`
	MaxSessions    int           `yaml:"max_sessions" toml:"max_sessions"`
	MaxIncoming    int           `yaml:"max_incoming_negotiations" toml:"max_incoming_negotiations"`
	Session        SessionConfig `yaml:"session" toml:"session"`
	Peers          []Peer        `yaml:"peers" toml:"peers"`
}

// FormatOf returns the format implied by a file name's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if f.PrivateKeyFile != "" && !filepath.IsAbs(f.PrivateKeyFile) {
		f.PrivateKeyFile = filepath.Join(filepath.Dir(path), f.PrivateKeyFile)
	}
	return f, nil
}

// Parse decodes and validates data. Unknown keys are rejected.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse toml: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, ErrUnknownFormat
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks values that the protocol layers do not check themselves.
func (f *File) Validate() error {
	switch strings.ToLower(f.LogLevel) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, f.LogLevel)
	}
	if f.PrivateKey != "" && f.PrivateKeyFile != "" {
		return fmt.Errorf("%w: private_key and private_key_file are exclusive", ErrInvalid)
	}
	names := make(map[string]bool)
	for i, p := range f.Peers {
		if p.Name == "" {
			return fmt.Errorf("%w: peer %d has no name", ErrInvalid, i)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate peer %q", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		if _, err := p.Identity(); err != nil {
			return fmt.Errorf("%w: peer %q: %w", ErrInvalid, p.Name, err)
		}
		if p.Connect && p.Address == "" {
			return fmt.Errorf("%w: peer %q has connect set but no address", ErrInvalid, p.Name)
		}
	}
	if err := f.ZSSPConfig().WithDefaults().Validate(); err != nil {
		return err
	}
	return nil
}

// Params converts the session section.
func (s SessionConfig) Params() session.Params {
	return session.Params{
		RekeyAfterUses:               s.RekeyAfterUses,
		ExpireAfterUses:              s.ExpireAfterUses,
		RekeyAfterTimeMs:             s.RekeyAfterTimeMs,
		RekeyAfterTimeMaxJitterMs:    s.RekeyAfterTimeMaxJitterMs,
		RetryIntervalMs:              s.RetryIntervalMs,
		IncomingNegotiationTimeoutMs: s.IncomingNegotiationTimeoutMs,
		OutgoingNegotiationTimeoutMs: s.OutgoingNegotiationTimeoutMs,
		MTU:                          s.MTU,
		ReplayWindowSize:             s.ReplayWindowSize,
		MaxMessagesInFlight:          s.MaxMessagesInFlight,
		FragmentTimeoutMs:            s.FragmentTimeoutMs,
		MaxAuthFailures:              s.MaxAuthFailures,
	}
}

// ZSSPConfig returns the protocol configuration. Logging, metrics and
// callbacks are left for the caller to fill in.
func (f *File) ZSSPConfig() zssp.Config {
	return zssp.Config{
		Params:                  f.Session.Params(),
		MaxSessions:             f.MaxSessions,
		MaxIncomingNegotiations: f.MaxIncoming,
	}
}

// Identity loads the local key pair from private_key or private_key_file.
func (f *File) Identity() (*crypto.KeyPair, error) {
	encoded := f.PrivateKey
	if f.PrivateKeyFile != "" {
		data, err := os.ReadFile(f.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		encoded = string(data)
	}
	if encoded == "" {
		return nil, ErrNoIdentity
	}
	raw, err := decodeHex(encoded)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	defer crypto.Zeroize(raw)
	return crypto.KeyPairFromPrivateKey(raw)
}

// Identity decodes the peer's keys.
func (p Peer) Identity() (*zssp.RemoteIdentity, error) {
	raw, err := decodeHex(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, err := crypto.ParsePublicKey(raw)
	if err != nil {
		return nil, err
	}
	var psk []byte
	if p.PreSharedKey != "" {
		if psk, err = decodeHex(p.PreSharedKey); err != nil {
			return nil, fmt.Errorf("pre-shared key: %w", err)
		}
	}
	return &zssp.RemoteIdentity{PublicKey: pub, PreSharedKey: psk, AppData: p.Name}, nil
}

// ResolveAddress resolves the peer's UDP address.
func (p Peer) ResolveAddress() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", p.Address)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}
