package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"staking-rewards/ledger"
	"staking-rewards/localnet"
	"staking-rewards/logging"
	"staking-rewards/metrics"
	"staking-rewards/program"
	staking_rewards "staking-rewards/solana"
	"staking-rewards/storage"
)

// app holds what every command needs: the signing profiles, a backend and,
// when no RPC endpoint is configured, the local ledger runtime behind it.
type app struct {
	cfg       *Config
	log       zerolog.Logger
	profiles  *storage.JSONDB
	backend   staking_rewards.Backend
	runtime   *localnet.Runtime
	store     ledger.Store
	registry  *prometheus.Registry
	programID solana.PublicKey
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	log, err := logging.New(cfg.LogLevel, os.Stderr, cfg.LogPretty)
	if err != nil {
		return nil, err
	}
	programID, err := cfg.programID()
	if err != nil {
		return nil, err
	}
	profiles, err := storage.Connect(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to profile storage: %w", err)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		profiles:  profiles,
		registry:  prometheus.NewRegistry(),
		programID: programID,
	}

	if !cfg.Local() {
		a.backend = staking_rewards.NewRPCBackend(cfg.RPCEndpoint())
		log.Debug().Str("endpoint", cfg.RPCEndpoint()).Msg("Using RPC backend")
		return a, nil
	}

	opts, err := programOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := ledger.OpenSQLite(ctx, cfg.ledgerPath(), ledger.GenesisClock(time.Now()),
		ledger.WithMigrationLogger(log.With().Str("component", "migrations").Logger()),
	)
	if err != nil {
		return nil, err
	}
	collector, err := metrics.New(a.registry)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.store = store
	a.runtime = localnet.New(store, program.New(programID, opts...),
		localnet.WithMetrics(collector),
		localnet.WithLogger(log.With().Str("component", "localnet").Logger()),
	)
	a.backend = a.runtime
	log.Debug().Str("ledger", cfg.ledgerPath()).Msg("Using local ledger")
	return a, nil
}

// programOptions translates the configured policies into program options.
func programOptions(cfg *Config, log zerolog.Logger) ([]program.Option, error) {
	opts := []program.Option{
		program.WithLockDuration(cfg.LockDuration),
		program.WithLogger(log.With().Str("component", "program").Logger()),
	}
	if cfg.RewardExpr != "" {
		policy, err := program.NewExprReward(cfg.RewardExpr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, program.WithRewardPolicy(policy))
	}
	switch cfg.MarkerPolicy {
	case "", "refresh":
		opts = append(opts, program.WithMarkerPolicy(program.RefreshMarker{}))
	case "checkpoint":
		opts = append(opts, program.WithMarkerPolicy(program.CheckpointMarker{}))
	default:
		return nil, fmt.Errorf("unknown marker policy %q", cfg.MarkerPolicy)
	}
	return opts, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
	_ = a.profiles.Close()
}

// requireLocal fails commands that only make sense against the local ledger.
func (a *app) requireLocal(command string) error {
	if a.runtime == nil {
		return fmt.Errorf("%s is only available on the local ledger, unset --rpc-url", command)
	}
	return nil
}

func (a *app) profile(name string) (*storage.Profile, error) {
	if name == "" {
		name = a.cfg.Profile
	}
	return a.profiles.GetProfile(name)
}

// client returns a client signing with the named profile, the configured
// profile when name is empty.
func (a *app) client(name string) (*staking_rewards.Client, error) {
	mint, err := a.cfg.mint()
	if err != nil {
		return nil, err
	}
	profile, err := a.profile(name)
	if err != nil {
		return nil, err
	}
	client := staking_rewards.NewClient(a.backend, profile.PrivateKey, a.programID, mint)
	client.Log = a.log
	return client, nil
}

// resolveAddress accepts a profile name or a base58 address.
func (a *app) resolveAddress(arg string) (solana.PublicKey, error) {
	if key, err := solana.PublicKeyFromBase58(arg); err == nil {
		return key, nil
	}
	profile, err := a.profiles.GetProfile(arg)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%q is neither an address nor a profile: %w", arg, err)
	}
	return profile.PublicKey(), nil
}
