// Package config loads node and client settings through viper. Every key can be
// set in the TOML file, as a DARKFORGE_ environment variable, or by a bound flag.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"darkforge/internal/coprocessor"
	"darkforge/internal/types"
)

const (
	EnvPrefix      = "DARKFORGE"
	ConfigName     = "darkforge"
	ConfigType     = "toml"
	ConfigDir      = "config"
	DefaultHome    = ".darkforged"
	DefaultCLIHome = ".darkforge"
)

// Node keys.
const (
	KeyHome                   = "home"
	KeyChainID                = "chain_id"
	KeyEVMChainID             = "evm_chain_id"
	KeyContractName           = "contract_name"
	KeyLogLevel               = "log.level"
	KeyLogFormat              = "log.format"
	KeyABCIAddr               = "abci.addr"
	KeyABCITransport          = "abci.transport"
	KeyRelayerEnabled         = "relayer.enabled"
	KeyRelayerListen          = "relayer.listen"
	KeyRelayerVerifying       = "relayer.verifying_contract"
	KeyRelayerMaxDurationDays = "relayer.max_duration_days"
	KeyCoprocessorBackend     = "coprocessor.backend"
	KeyCoprocessorSeed        = "coprocessor.seed"
)

// Client keys.
const (
	KeyNode         = "node"
	KeyRelayer      = "relayer"
	KeyKeyFile      = "key_file"
	KeyTimeout      = "timeout"
	KeyRetries      = "retries"
	KeyDurationDays = "duration_days"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ABCIConfig struct {
	Addr      string `mapstructure:"addr"`
	Transport string `mapstructure:"transport"`
}

type RelayerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Listen            string `mapstructure:"listen"`
	VerifyingContract string `mapstructure:"verifying_contract"`
	MaxDurationDays   uint64 `mapstructure:"max_duration_days"`
}

type CoprocessorConfig struct {
	Backend string `mapstructure:"backend"`
	Seed    string `mapstructure:"seed"`
}

type NodeConfig struct {
	Home         string            `mapstructure:"home"`
	ChainID      string            `mapstructure:"chain_id"`
	EVMChainID   uint64            `mapstructure:"evm_chain_id"`
	ContractName string            `mapstructure:"contract_name"`
	Log          LogConfig         `mapstructure:"log"`
	ABCI         ABCIConfig        `mapstructure:"abci"`
	Relayer      RelayerConfig     `mapstructure:"relayer"`
	Coprocessor  CoprocessorConfig `mapstructure:"coprocessor"`
}

// nodeFileKeys are the settings persisted by WriteNode. Home is implied by the file location.
var nodeFileKeys = []string{
	KeyChainID, KeyEVMChainID, KeyContractName,
	KeyLogLevel, KeyLogFormat,
	KeyABCIAddr, KeyABCITransport,
	KeyRelayerEnabled, KeyRelayerListen, KeyRelayerVerifying, KeyRelayerMaxDurationDays,
	KeyCoprocessorBackend, KeyCoprocessorSeed,
}

func SetNodeDefaults(v *viper.Viper) {
	v.SetDefault(KeyHome, DefaultHome)
	v.SetDefault(KeyChainID, "darkforge-1")
	v.SetDefault(KeyEVMChainID, 9000)
	v.SetDefault(KeyContractName, types.DefaultContractName)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "plain")
	v.SetDefault(KeyABCIAddr, "tcp://127.0.0.1:26658")
	v.SetDefault(KeyABCITransport, "socket")
	v.SetDefault(KeyRelayerEnabled, true)
	v.SetDefault(KeyRelayerListen, "127.0.0.1:8645")
	v.SetDefault(KeyRelayerVerifying, "0x0000000000000000000000000000000000000D3c")
	v.SetDefault(KeyRelayerMaxDurationDays, 365)
	v.SetDefault(KeyCoprocessorBackend, string(dbm.GoLevelDBBackend))
	v.SetDefault(KeyCoprocessorSeed, "")
}

// NewViper returns a viper instance wired for env overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName(ConfigName)
	v.SetConfigType(ConfigType)
	return v
}

// ConfigPath is where the node config lives under home.
func ConfigPath(home string) string {
	return filepath.Join(home, ConfigDir, ConfigName+"."+ConfigType)
}

// LoadNode reads <home>/config/darkforge.toml when present and decodes every key.
func LoadNode(v *viper.Viper) (NodeConfig, error) {
	SetNodeDefaults(v)
	if err := readIfPresent(v, filepath.Join(v.GetString(KeyHome), ConfigDir)); err != nil {
		return NodeConfig{}, err
	}
	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func readIfPresent(v *viper.Viper, dir string) error {
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// WriteNode writes the effective node settings to <home>/config/darkforge.toml.
// Flags that are not settings (e.g. --overwrite) are left out.
func WriteNode(v *viper.Viper, overwrite bool) (string, error) {
	SetNodeDefaults(v)
	path := ConfigPath(v.GetString(KeyHome))
	if _, err := os.Stat(path); err == nil && !overwrite {
		return "", fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	out := viper.New()
	for _, key := range nodeFileKeys {
		out.Set(key, v.Get(key))
	}
	if err := out.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

func (c NodeConfig) Validate() error {
	if strings.TrimSpace(c.ChainID) == "" {
		return errors.New("chain_id must be set")
	}
	if c.EVMChainID == 0 {
		return errors.New("evm_chain_id must be positive")
	}
	if strings.TrimSpace(c.ContractName) == "" {
		return errors.New("contract_name must be set")
	}
	switch c.ABCI.Transport {
	case "socket", "grpc":
	default:
		return fmt.Errorf("abci.transport must be socket or grpc, got %q", c.ABCI.Transport)
	}
	switch dbm.BackendType(c.Coprocessor.Backend) {
	case dbm.GoLevelDBBackend, dbm.MemDBBackend:
	default:
		return fmt.Errorf("coprocessor.backend must be %s or %s, got %q", dbm.GoLevelDBBackend, dbm.MemDBBackend, c.Coprocessor.Backend)
	}
	if _, err := c.CoprocessorSeed(); err != nil {
		return err
	}
	if c.Relayer.Enabled {
		if _, err := c.VerifyingContract(); err != nil {
			return err
		}
		if c.Relayer.MaxDurationDays == 0 {
			return errors.New("relayer.max_duration_days must be positive")
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// CoprocessorSeed decodes coprocessor.seed. An empty seed means "generate and persist one".
func (c NodeConfig) CoprocessorSeed() ([]byte, error) {
	s := strings.TrimPrefix(c.Coprocessor.Seed, "0x")
	if s == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("coprocessor.seed is not hex: %w", err)
	}
	if len(seed) != coprocessor.SeedBytes {
		return nil, fmt.Errorf("coprocessor.seed must be %d bytes, got %d", coprocessor.SeedBytes, len(seed))
	}
	return seed, nil
}

func (c NodeConfig) VerifyingContract() (common.Address, error) {
	if !common.IsHexAddress(c.Relayer.VerifyingContract) {
		return common.Address{}, fmt.Errorf("relayer.verifying_contract %q is not an address", c.Relayer.VerifyingContract)
	}
	return common.HexToAddress(c.Relayer.VerifyingContract), nil
}

// AppDir holds the ABCI state; DataDir holds the coprocessor database.
func (c NodeConfig) AppDir() string  { return filepath.Join(c.Home, "app") }
func (c NodeConfig) DataDir() string { return filepath.Join(c.Home, "data") }

// ClientConfig drives the player CLI.
type ClientConfig struct {
	Home         string        `mapstructure:"home"`
	Node         string        `mapstructure:"node"`
	Relayer      string        `mapstructure:"relayer"`
	ChainID      string        `mapstructure:"chain_id"`
	KeyFile      string        `mapstructure:"key_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      uint64        `mapstructure:"retries"`
	DurationDays uint64        `mapstructure:"duration_days"`
	Log          LogConfig     `mapstructure:"log"`
}

func SetClientDefaults(v *viper.Viper) {
	v.SetDefault(KeyHome, DefaultCLIHome)
	v.SetDefault(KeyNode, "http://127.0.0.1:26657")
	v.SetDefault(KeyRelayer, "http://127.0.0.1:8645")
	v.SetDefault(KeyChainID, "darkforge-1")
	v.SetDefault(KeyKeyFile, "")
	v.SetDefault(KeyTimeout, "30s")
	v.SetDefault(KeyRetries, 5)
	v.SetDefault(KeyDurationDays, 7)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "plain")
}

// LoadClient reads <home>/config/darkforge.toml when present.
func LoadClient(v *viper.Viper) (ClientConfig, error) {
	SetClientDefaults(v)
	if err := readIfPresent(v, filepath.Join(v.GetString(KeyHome), ConfigDir)); err != nil {
		return ClientConfig{}, err
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.Home, "key.hex")
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if c.Node == "" {
		return errors.New("node must be set")
	}
	if c.ChainID == "" {
		return errors.New("chain_id must be set")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.DurationDays == 0 {
		return errors.New("duration_days must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
