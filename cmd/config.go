package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	staking_rewards "staking-rewards/solana"
)

const (
	defaultDataDirName = ".staking-rewards"
	ledgerFileName     = "ledger.db"
	heliusDevnetURL    = "https://devnet.helius-rpc.com/?api-key=%s"
)

// Config collects every setting of the CLI. Values are layered: defaults,
// then .env and the environment, then command line flags.
type Config struct {
	RPCURL       string
	HeliusAPIKey string
	DataDir      string
	LedgerPath   string
	ProgramID    string
	Mint         string
	Profile      string
	LockDuration time.Duration
	RewardExpr   string
	MarkerPolicy string
	LogLevel     string
	LogPretty    bool
	Listen       string
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	dataDir := defaultDataDirName
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, defaultDataDirName)
	}
	return &Config{
		DataDir:      dataDir,
		ProgramID:    staking_rewards.ProgramID.String(),
		Profile:      "admin",
		MarkerPolicy: "refresh",
		LogLevel:     "info",
		LogPretty:    true,
		Listen:       "127.0.0.1:8088",
	}
}

// LoadEnv overlays a .env file from the working directory (if any) and the
// process environment.
func (c *Config) LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("STAKING_RPC_URL", &c.RPCURL)
	setString("HELIUS_API_KEY", &c.HeliusAPIKey)
	setString("STAKING_DATA_DIR", &c.DataDir)
	setString("STAKING_LEDGER", &c.LedgerPath)
	setString("STAKING_PROGRAM_ID", &c.ProgramID)
	setString("STAKING_MINT", &c.Mint)
	setString("STAKING_PROFILE", &c.Profile)
	setString("STAKING_REWARD_EXPR", &c.RewardExpr)
	setString("STAKING_MARKER_POLICY", &c.MarkerPolicy)
	setString("STAKING_LOG_LEVEL", &c.LogLevel)
	setString("STAKING_LISTEN", &c.Listen)

	if v := os.Getenv("STAKING_LOCK_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STAKING_LOCK_DURATION: %w", err)
		}
		c.LockDuration = d
	}
	if v := os.Getenv("STAKING_LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STAKING_LOG_PRETTY: %w", err)
		}
		c.LogPretty = pretty
	}
	return nil
}

// BindFlags registers the persistent flags. Flags default to the current
// values so an unset flag keeps the environment's setting.
func (c *Config) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.RPCURL, "rpc-url", c.RPCURL, "Solana RPC endpoint; empty runs against the local ledger")
	flags.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory holding profiles and the local ledger")
	flags.StringVar(&c.LedgerPath, "ledger", c.LedgerPath, "local ledger database (default <data-dir>/ledger.db)")
	flags.StringVar(&c.ProgramID, "program-id", c.ProgramID, "staking program address")
	flags.StringVar(&c.Mint, "mint", c.Mint, "staking token mint")
	flags.StringVarP(&c.Profile, "profile", "p", c.Profile, "signing profile")
	flags.DurationVar(&c.LockDuration, "lock-duration", c.LockDuration, "minimum staking period of the local program")
	flags.StringVar(&c.RewardExpr, "reward-expr", c.RewardExpr, "reward expression over principal, slots, seconds and decimals")
	flags.StringVar(&c.MarkerPolicy, "marker-policy", c.MarkerPolicy, "what a top-up does with elapsed reward: refresh or checkpoint")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	flags.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "human readable logs instead of JSON")
}

// RPCEndpoint returns the remote endpoint to use, empty for the local ledger.
// An explicit URL wins over a Helius key.
func (c *Config) RPCEndpoint() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	if c.HeliusAPIKey != "" {
		return fmt.Sprintf(heliusDevnetURL, c.HeliusAPIKey)
	}
	return ""
}

// Local reports whether the CLI runs its own ledger.
func (c *Config) Local() bool {
	return c.RPCEndpoint() == ""
}

func (c *Config) ledgerPath() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return filepath.Join(c.DataDir, ledgerFileName)
}

func (c *Config) programID() (solana.PublicKey, error) {
	id, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", c.ProgramID, err)
	}
	return id, nil
}

func (c *Config) mint() (solana.PublicKey, error) {
	if c.Mint == "" {
		return solana.PublicKey{}, errors.New("no mint configured, set STAKING_MINT or --mint (create one with create-mint)")
	}
	mint, err := solana.PublicKeyFromBase58(c.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid mint %q: %w", c.Mint, err)
	}
	return mint, nil
}
