// Package config provides configuration loading for the deployer.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "STAKEPOOL"

// Signer types.
const (
	SignerLocal  = "local"
	SignerRemote = "remote"
)

// Config holds all configuration for the application.
type Config struct {
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Network    NetworkConfig    `mapstructure:"network"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// DeploymentConfig holds the StakingPool constructor parameters.
type DeploymentConfig struct {
	Artifact         string `mapstructure:"artifact" validate:"required"`
	RewardRate       uint64 `mapstructure:"reward_rate" validate:"gt=0"`
	WithdrawalPeriod uint64 `mapstructure:"withdrawal_period" validate:"gt=0"`
	VaultAddress     string `mapstructure:"vault_address" validate:"required,eth_address"`
	TokenAddress     string `mapstructure:"token_address" validate:"required,eth_address"`
}

// NetworkConfig holds the RPC endpoint and transaction settings.
type NetworkConfig struct {
	RPCURL              string        `mapstructure:"rpc_url" validate:"required,url"`
	ChainID             int64         `mapstructure:"chain_id" validate:"gte=0"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
	GasPrice            string        `mapstructure:"gas_price" validate:"omitempty,numeric"` // wei, empty = suggested
	Confirmations       uint64        `mapstructure:"confirmations" validate:"gte=1"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout" validate:"gt=0"`
	PollInterval        time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// SignerConfig selects how the creation transaction is signed.
type SignerConfig struct {
	Type       string `mapstructure:"type" validate:"oneof=local remote"`
	PrivateKey string `mapstructure:"private_key"` // checked when the signer is built
	Endpoint   string `mapstructure:"endpoint" validate:"required_if=Type remote,omitempty,url"`
	APIKey     string `mapstructure:"api_key"`
	Address    string `mapstructure:"address" validate:"required_if=Type remote,omitempty,eth_address"`
}

// ArtifactsConfig locates compiled contract artifacts. BundleURL wins over Dir.
type ArtifactsConfig struct {
	Dir            string `mapstructure:"dir" validate:"required_without=BundleURL"`
	BundleURL      string `mapstructure:"bundle_url" validate:"omitempty,url"`
	BundleChecksum string `mapstructure:"bundle_checksum" validate:"omitempty,startswith=sha256:"`
}

// HistoryConfig holds the optional Postgres deployment journal.
type HistoryConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
}

// Enabled reports whether a history database is configured.
func (c HistoryConfig) Enabled() bool {
	return c.DSN != ""
}

// MetricsConfig holds the optional Pushgateway target.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job" validate:"required"`
}

// Enabled reports whether metrics should be pushed.
func (c MetricsConfig) Enabled() bool {
	return c.PushgatewayURL != ""
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// New returns a viper instance with defaults, search paths and env binding
// applied. Callers may bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetConfigName("stakepool")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stakepool")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Secrets are bound explicitly so they resolve without a config file.
	v.BindEnv("signer.private_key", EnvPrefix+"_SIGNER_PRIVATE_KEY")
	v.BindEnv("signer.api_key", EnvPrefix+"_SIGNER_API_KEY")
	v.BindEnv("history.dsn", EnvPrefix+"_HISTORY_DSN", "DATABASE_URL")

	return v
}

// Load reads configuration from the given file (or the default search
// paths when empty) and environment variables, then validates it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Deployment defaults reproduce the original StakingPool launch.
	v.SetDefault("deployment.artifact", deployment.DefaultArtifactName)
	v.SetDefault("deployment.reward_rate", 500)
	v.SetDefault("deployment.withdrawal_period", 30)
	v.SetDefault("deployment.vault_address", "0xf371efda1a6ebe7947b2e9c5417fd16c30612555")
	v.SetDefault("deployment.token_address", "0xA0290118D3014F6d9b6f2E9430EAeDe507C949C1")

	// Network defaults (local Hardhat node)
	v.SetDefault("network.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("network.chain_id", 0)
	v.SetDefault("network.gas_limit", 0)
	v.SetDefault("network.gas_price", "")
	v.SetDefault("network.confirmations", 1)
	v.SetDefault("network.confirmation_timeout", "5m")
	v.SetDefault("network.poll_interval", "2s")

	v.SetDefault("signer.type", SignerLocal)
	v.SetDefault("signer.endpoint", "")
	v.SetDefault("signer.address", "")

	v.SetDefault("artifacts.dir", "./artifacts")
	v.SetDefault("artifacts.bundle_url", "")
	v.SetDefault("artifacts.bundle_checksum", "")

	v.SetDefault("history.max_conns", 4)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "stakepool_deployer")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterValidation("eth_address", isEthAddress)
	return val
}

// isEthAddress accepts 0x-prefixed 20-byte hex. Mixed-case input must carry
// a valid EIP-55 checksum.
func isEthAddress(fl validator.FieldLevel) bool {
	return validAddress(fl.Field().String())
}

func validAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

// Validate checks field constraints. All failures are reported together.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, deployment.NewValidationError(fieldName(fe), describe(fe)))
	}
	return fmt.Errorf("%w: %w", deployment.ErrInvalidConfiguration, errors.Join(errs...))
}

// fieldName converts "Config.Deployment.VaultAddress" to the config key
// "deployment.vault_address".
func fieldName(fe validator.FieldError) string {
	ns := strings.TrimPrefix(fe.StructNamespace(), "Config.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "RPCURL":
		return "rpc_url"
	case "ChainID":
		return "chain_id"
	case "APIKey":
		return "api_key"
	case "DSN":
		return "dsn"
	case "BundleURL":
		return "bundle_url"
	case "PushgatewayURL":
		return "pushgateway_url"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "eth_address":
		return fmt.Sprintf("%q is not a valid address", fe.Value())
	case "url":
		return fmt.Sprintf("%q is not a valid URL", fe.Value())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "numeric":
		return "must be a decimal number"
	case "startswith":
		return "must start with " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// ToConfiguration converts the deployment section into the typed
// configuration the orchestrator runs with.
func (c *Config) ToConfiguration() deployment.Configuration {
	return deployment.Configuration{
		RewardRate:       c.Deployment.RewardRate,
		WithdrawalPeriod: c.Deployment.WithdrawalPeriod,
		VaultAddress:     common.HexToAddress(c.Deployment.VaultAddress),
		TokenAddress:     common.HexToAddress(c.Deployment.TokenAddress),
	}
}

// GasPriceWei returns the configured gas price, or nil when the node's
// suggestion should be used.
func (c NetworkConfig) GasPriceWei() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(c.GasPrice, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("invalid gas price %q", c.GasPrice)
	}
	return price, nil
}
