package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// DefaultConfigDir is the system-wide config directory for turnrelay.
const DefaultConfigDir = "/etc/turnrelay"

// secretsFileName is the name of the secrets file within the config directory.
const secretsFileName = "secrets.toml"

// DefaultListenAddr is the UDP address the relay binds when none is configured.
const DefaultListenAddr = ":3478"

// DefaultLifetimeCeilingSeconds bounds how long a Refresh may extend an
// allocation's lifetime, regardless of what the client requests.
const DefaultLifetimeCeilingSeconds = 60

// Config is the top-level configuration for turnrelay. It is persisted as
// a pair of TOML files at DefaultConfigPath() / DefaultSecretsPath().
type Config struct {
	Relay RelayConfig `toml:"relay"`
}

// RelayConfig holds the settings the relay engine needs to run.
type RelayConfig struct {
	// ListenAddr is the UDP address to bind (e.g. ":3478").
	ListenAddr string `toml:"listen_addr"`

	// Realm is the REALM value sent in 401 challenges and expected back
	// in the long-term-credential key derivation.
	Realm string `toml:"realm"`

	// Nonce is the NONCE value sent in 401 challenges. A production relay
	// would rotate this; this relay uses a single static value.
	Nonce string `toml:"nonce"`

	// Hosted lists the peer identities this relay will extend Refresh
	// for (the other side of the pair need not be hosted).
	Hosted []string `toml:"hosted,omitempty"`

	// LifetimeCeilingSeconds caps how long a Refresh may extend an
	// allocation, regardless of the client's requested lifetime.
	LifetimeCeilingSeconds int `toml:"lifetime_ceiling_seconds"`

	// ControlSocket is the filesystem path of the Unix-domain control
	// socket exposing operational status. Empty disables it.
	ControlSocket string `toml:"control_socket,omitempty"`

	// TurnPassword is the long-term-credential password used to derive
	// each allocation's MESSAGE-INTEGRITY key: DeriveKey(username, realm,
	// TurnPassword).
	TurnPassword string `toml:"-"`

	// IcePassword is the relay's static short-term-credential password
	// used to rewrite MESSAGE-INTEGRITY on relayed ICE frames.
	IcePassword string `toml:"-"`
}

// configFile is the TOML representation for config.toml (world-readable, no secrets).
type configFile struct {
	Relay relayConfigFile `toml:"relay"`
}

type relayConfigFile struct {
	ListenAddr             string   `toml:"listen_addr"`
	Realm                  string   `toml:"realm"`
	Nonce                  string   `toml:"nonce"`
	Hosted                 []string `toml:"hosted,omitempty"`
	LifetimeCeilingSeconds int      `toml:"lifetime_ceiling_seconds"`
	ControlSocket          string   `toml:"control_socket,omitempty"`
}

// secretsFile is the TOML representation for secrets.toml (0660, root + invoking user).
type secretsFile struct {
	Relay relaySecretsFile `toml:"relay"`
}

type relaySecretsFile struct {
	TurnPassword string `toml:"turn_password"`
	IcePassword  string `toml:"ice_password"`
}

func toConfigFile(cfg *Config) *configFile {
	return &configFile{Relay: relayConfigFile{
		ListenAddr:             cfg.Relay.ListenAddr,
		Realm:                  cfg.Relay.Realm,
		Nonce:                  cfg.Relay.Nonce,
		Hosted:                 cfg.Relay.Hosted,
		LifetimeCeilingSeconds: cfg.Relay.LifetimeCeilingSeconds,
		ControlSocket:          cfg.Relay.ControlSocket,
	}}
}

func toSecretsFile(cfg *Config) *secretsFile {
	return &secretsFile{Relay: relaySecretsFile{
		TurnPassword: cfg.Relay.TurnPassword,
		IcePassword:  cfg.Relay.IcePassword,
	}}
}

func mergeSecrets(cfg *Config, s *secretsFile) {
	cfg.Relay.TurnPassword = s.Relay.TurnPassword
	cfg.Relay.IcePassword = s.Relay.IcePassword
}

// DefaultConfig returns a Config populated with sensible defaults. Realm,
// Nonce and the secret passwords are left empty and must be filled in.
func DefaultConfig() *Config {
	return &Config{Relay: RelayConfig{
		ListenAddr:             DefaultListenAddr,
		LifetimeCeilingSeconds: DefaultLifetimeCeilingSeconds,
	}}
}

// DefaultConfigPath returns the default path for the turnrelay config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir, "config.toml")
}

// DefaultSecretsPath returns the default path for the turnrelay secrets file.
func DefaultSecretsPath() string {
	return filepath.Join(DefaultConfigDir, secretsFileName)
}

// SecretsPathFromConfig derives the secrets.toml path from a config.toml path.
func SecretsPathFromConfig(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), secretsFileName)
}

// LoadConfig reads config.toml and secrets.toml, merging them into a
// single Config. If secrets.toml does not exist, the secret fields are
// left at their zero values.
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadPublicConfig(path)
	if err != nil {
		return nil, err
	}

	secretsPath := SecretsPathFromConfig(path)
	var sec secretsFile
	if _, err := toml.DecodeFile(secretsPath, &sec); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading secrets file %s: %w", secretsPath, err)
		}
	} else {
		mergeSecrets(cfg, &sec)
	}

	return cfg, nil
}

// LoadPublicConfig reads only config.toml (the world-readable, non-secret
// portion of the configuration).
func LoadPublicConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	var cf configFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg.Relay.ListenAddr = cf.Relay.ListenAddr
	cfg.Relay.Realm = cf.Relay.Realm
	cfg.Relay.Nonce = cf.Relay.Nonce
	cfg.Relay.Hosted = cf.Relay.Hosted
	cfg.Relay.LifetimeCeilingSeconds = cf.Relay.LifetimeCeilingSeconds
	cfg.Relay.ControlSocket = cf.Relay.ControlSocket
	applyDefaults(cfg)
	return cfg, nil
}

// SaveConfig writes both config.toml and secrets.toml to the directory
// containing path. Parent directories are created with mode 0755 if they
// don't exist.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		return fmt.Errorf("setting directory permissions on %s: %w", dir, err)
	}

	if err := writeFile(path, 0664, toConfigFile(cfg)); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	applyUserOwnership(path)

	secretsPath := SecretsPathFromConfig(path)
	if err := writeFile(secretsPath, 0660, toSecretsFile(cfg)); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	applyUserOwnership(secretsPath)

	return nil
}

// SaveSecrets writes only the secrets.toml file for the given config path.
func SaveSecrets(configPath string, cfg *Config) error {
	secretsPath := SecretsPathFromConfig(configPath)
	if err := writeFile(secretsPath, 0660, toSecretsFile(cfg)); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	applyUserOwnership(secretsPath)
	return nil
}

// applyUserOwnership sets group ownership on a config file so the user who
// ran sudo can read and write it without elevation. Best-effort: errors
// are silently ignored since the file is already written successfully.
func applyUserOwnership(path string) {
	if os.Getuid() != 0 {
		return
	}
	gidStr := os.Getenv("SUDO_GID")
	if gidStr == "" {
		return
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return
	}
	_ = os.Chown(path, 0, gid)
}

// writeFile encodes v as TOML and writes it to path with the given file mode.
func writeFile(path string, mode os.FileMode, v interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills in default values for optional fields that are
// zero-valued after TOML decoding.
func applyDefaults(cfg *Config) {
	if cfg.Relay.ListenAddr == "" {
		cfg.Relay.ListenAddr = DefaultListenAddr
	}
	if cfg.Relay.LifetimeCeilingSeconds == 0 {
		cfg.Relay.LifetimeCeilingSeconds = DefaultLifetimeCeilingSeconds
	}
}
