package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de escrowd.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controla las reglas del motor de escrow.
type EngineConfig struct {
	PlatformWallet       string `yaml:"platform_wallet"` // recibe peek fees y fees de plataforma
	MinEntryFee          int64  `yaml:"min_entry_fee"`
	MinAgents            int    `yaml:"min_agents"`
	MaxAgents            int    `yaml:"max_agents"`
	CompeteWindowMinutes int    `yaml:"compete_window_minutes"` // reveal → compete deadline
	RefundWindowMinutes  int    `yaml:"refund_window_minutes"`  // reveal → refund deadline
	VerifyWorkers        int    `yaml:"verify_workers"`         // 0 = NumCPU × 2
}

// ChainConfig apunta al nodo EVM que verifica pagos y balances.
type ChainConfig struct {
	RPCURL         string  `yaml:"rpc_url"`
	EscrowAddress  string  `yaml:"escrow_address"`
	Confirmations  uint64  `yaml:"confirmations"`
	MinVoteBalance string  `yaml:"min_vote_balance"` // wei en decimal
	RPS            float64 `yaml:"rps"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// ServerConfig controla la API HTTP.
type ServerConfig struct {
	ListenAddr            string   `yaml:"listen_addr"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if _, err := cfg.Chain.MinVoteBalanceWei(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CompeteWindow devuelve la ventana de competición como time.Duration.
func (c *Config) CompeteWindow() time.Duration {
	return time.Duration(c.Engine.CompeteWindowMinutes) * time.Minute
}

// RefundWindow devuelve la ventana de reembolso como time.Duration.
func (c *Config) RefundWindow() time.Duration {
	return time.Duration(c.Engine.RefundWindowMinutes) * time.Minute
}

// RequestTimeout devuelve el timeout por request HTTP.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// MinVoteBalanceWei parsea el umbral anti-sybil. Vacío equivale a 0.
func (c ChainConfig) MinVoteBalanceWei() (*big.Int, error) {
	if c.MinVoteBalance == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(c.MinVoteBalance, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid chain.min_vote_balance %q", c.MinVoteBalance)
	}
	return v, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ESCROW_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ESCROW_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("ESCROW_ADDRESS"); v != "" {
		cfg.Chain.EscrowAddress = v
	}
	if v := os.Getenv("ESCROW_PLATFORM_WALLET"); v != "" {
		cfg.Engine.PlatformWallet = v
	}
	if v := os.Getenv("ESCROW_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.PlatformWallet == "" {
		cfg.Engine.PlatformWallet = "platform"
	}
	if cfg.Engine.MinEntryFee <= 0 {
		cfg.Engine.MinEntryFee = 1
	}
	if cfg.Engine.MinAgents <= 0 {
		cfg.Engine.MinAgents = 3
	}
	if cfg.Engine.MaxAgents <= 0 {
		cfg.Engine.MaxAgents = 64
	}
	if cfg.Engine.CompeteWindowMinutes <= 0 {
		cfg.Engine.CompeteWindowMinutes = 24 * 60
	}
	if cfg.Engine.RefundWindowMinutes <= 0 {
		cfg.Engine.RefundWindowMinutes = 60
	}
	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = 3
	}
	if cfg.Chain.MinVoteBalance == "" {
		cfg.Chain.MinVoteBalance = "1000000000000000000" // 1 ETH
	}
	if cfg.Chain.RPS <= 0 {
		cfg.Chain.RPS = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "escrow.db"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
