package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"staking-rewards/api"
	staking_rewards "staking-rewards/solana"
)

func newProfileCmd(cfg *Config) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage signing profiles",
	}
	profileCmd.AddCommand(
		&cobra.Command{
			Use:   "create NAME",
			Short: "Generate a new keypair and store it as a profile",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(cfg, func(_ context.Context, a *app, cmd *cobra.Command, args []string) error {
				profile, err := a.profiles.CreateProfile(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Profile created:"), profile.Name, profile.PublicKey())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored profiles",
			Args:  cobra.NoArgs,
			RunE: withApp(cfg, func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
				profiles, err := a.profiles.Profiles()
				if err != nil {
					return err
				}
				for _, p := range profiles {
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", p.Name, p.PublicKey())
				}
				return nil
			}),
		},
	)
	return profileCmd
}

func newCreateMintCmd(cfg *Config) *cobra.Command {
	var decimals uint8
	createMintCmd := &cobra.Command{
		Use:   "create-mint",
		Short: "Create a token mint on the local ledger with the profile as mint authority",
		Args:  cobra.NoArgs,
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.requireLocal("create-mint"); err != nil {
				return err
			}
			profile, err := a.profile("")
			if err != nil {
				return err
			}
			mint := solana.NewWallet().PublicKey()
			if err := a.runtime.CreateMint(ctx, mint, profile.PublicKey(), decimals); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render("Mint created:"), mint)
			fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("   export STAKING_MINT=%s", mint)))
			return nil
		}),
	}
	createMintCmd.Flags().Uint8Var(&decimals, "decimals", 6, "mint decimals")
	return createMintCmd
}

func newCreateAccountCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "create-account [OWNER]",
		Short: "Create the associated token account of OWNER (profile or address, default the signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			owner := client.PublicKey()
			if len(args) == 1 {
				if owner, err = a.resolveAddress(args[0]); err != nil {
					return err
				}
			}
			return printSignature(cmd.OutOrStdout(), "Create token account", func() (*solana.Signature, error) {
				return client.CreateTokenAccount(ctx, owner)
			})
		}),
	}
}

func newMintToCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mint-to OWNER AMOUNT",
		Short: "Mint AMOUNT base units to the token account of OWNER; the profile must be the mint authority",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			owner, err := a.resolveAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return printSignature(cmd.OutOrStdout(), "Mint", func() (*solana.Signature, error) {
				return client.MintTo(ctx, owner, amount)
			})
		}),
	}
}

func newInitializeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "initialize",
		Short: "Create the program's reward vault for the mint",
		Args:  cobra.NoArgs,
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			return printSignature(cmd.OutOrStdout(), "Initialize", func() (*solana.Signature, error) {
				return client.Initialize(ctx)
			})
		}),
	}
}

func newStakeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stake AMOUNT",
		Short: "Move AMOUNT base units from the profile's token account into escrow",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			client, err := a.client("")
			if err != nil {
				return err
			}
			return printSignature(cmd.OutOrStdout(), "Stake", func() (*solana.Signature, error) {
				return client.Stake(ctx, amount)
			})
		}),
	}
}

func newDestakeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "destake",
		Short: "Withdraw the staked principal and collect the reward",
		Args:  cobra.NoArgs,
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			return printSignature(cmd.OutOrStdout(), "Destake", func() (*solana.Signature, error) {
				return client.Destake(ctx)
			})
		}),
	}
}

func newFundVaultCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "fund-vault AMOUNT",
		Short: "Deposit AMOUNT base units into the reward vault",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			client, err := a.client("")
			if err != nil {
				return err
			}
			return printSignature(cmd.OutOrStdout(), "Fund vault", func() (*solana.Signature, error) {
				return client.FundVault(ctx, amount)
			})
		}),
	}
}

func newStatusCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status [OWNER]",
		Short: "Show the staking position of OWNER (profile or address, default the signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			owner := client.PublicKey()
			if len(args) == 1 {
				if owner, err = a.resolveAddress(args[0]); err != nil {
					return err
				}
			}
			return printStatus(ctx, cmd.OutOrStdout(), client, owner)
		}),
	}
}

func newStakersCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stakers",
		Short: "List every stake record of the program",
		Args:  cobra.NoArgs,
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			return printStakers(ctx, cmd.OutOrStdout(), client)
		}),
	}
}

func newHistoryCmd(cfg *Config) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history [ADDRESS]",
		Short: "Show recent transactions touching ADDRESS (profile or address, default the signer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			client, err := a.client("")
			if err != nil {
				return err
			}
			address := client.PublicKey()
			if len(args) == 1 {
				if address, err = a.resolveAddress(args[0]); err != nil {
					return err
				}
			}
			return printHistory(ctx, cmd.OutOrStdout(), client, address, limit)
		}),
	}
	historyCmd.Flags().IntVar(&limit, "limit", 10, "maximum number of transactions")
	return historyCmd
}

func newWarpCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "warp SLOTS",
		Short: "Advance the local ledger clock by SLOTS",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			slots, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot count %q", args[0])
			}
			return warp(ctx, cmd.OutOrStdout(), a, slots)
		}),
	}
}

func newServeCmd(cfg *Config) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: withApp(cfg, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			mint, err := a.cfg.mint()
			if err != nil {
				return err
			}
			server := api.New(a.backend, a.programID, mint, a.profiles,
				api.WithMetrics(a.registry),
				api.WithLogger(a.log.With().Str("component", "api").Logger()),
			)
			srv := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				errc <- srv.ListenAndServe()
			}()
			a.log.Info().Str("address", a.cfg.Listen).Msg("Serving API")
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render(fmt.Sprintf("Serving at http://%s", a.cfg.Listen)))

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}),
	}
	serveCmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	return serveCmd
}

func warp(ctx context.Context, w io.Writer, a *app, slots uint64) error {
	if err := a.requireLocal("warp"); err != nil {
		return err
	}
	clock, err := a.runtime.Warp(ctx, slots)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, successStyle.Render("Clock advanced."))
	fmt.Fprintf(w, "   Slot: %d\n   Time: %s\n", clock.Slot, time.Unix(clock.UnixTimestamp, 0).UTC().Format(time.RFC3339))
	return nil
}

func printSignature(w io.Writer, label string, send func() (*solana.Signature, error)) error {
	sig, err := send()
	if err != nil {
		return fmt.Errorf("%s failed: %w", label, err)
	}
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("%s successful!", label)))
	fmt.Fprintf(w, "   Transaction Signature: %s\n", sig)
	return nil
}

func printStatus(ctx context.Context, w io.Writer, client *staking_rewards.Client, owner solana.PublicKey) error {
	status, err := client.GetStakeStatus(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Stake status of %s", owner)))
	state := "not staked"
	if status.Staked {
		state = "staked"
	}
	fmt.Fprintf(w, "   State:          %s\n", state)
	fmt.Fprintf(w, "   Principal:      %d\n", status.Principal)
	fmt.Fprintf(w, "   Escrow:         %d\n", status.EscrowBalance)
	fmt.Fprintf(w, "   Wallet:         %d\n", status.WalletBalance)
	fmt.Fprintf(w, "   Elapsed slots:  %d\n", status.ElapsedSlots)
	if status.LockEndTime > 0 {
		fmt.Fprintf(w, "   Locked until:   %s\n", time.Unix(status.LockEndTime, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "   Vault:          %d\n", status.VaultBalance)
	return nil
}

func printStakers(ctx context.Context, w io.Writer, client *staking_rewards.Client) error {
	stakers, err := client.FetchAllStakeInfos(ctx)
	if err != nil {
		return err
	}
	total, err := staking_rewards.TotalStaked(stakers)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d stake records, %d staked in total", len(stakers), total)))
	for _, s := range stakers {
		fmt.Fprintf(w, "   %s  principal=%d staked=%t slot=%d\n", s.Owner, s.Principal, s.IsStaked, s.StakeAtSlot)
	}
	return nil
}

func printHistory(ctx context.Context, w io.Writer, client *staking_rewards.Client, address solana.PublicKey, limit int) error {
	history, err := client.GetHistory(ctx, address, limit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(w, promptStyle.Render("No transactions found."))
		return nil
	}
	for _, entry := range history {
		line := fmt.Sprintf("%s  slot %d  %v", entry.Timestamp.UTC().Format(time.RFC3339), entry.Slot, entry.Instructions)
		if entry.Err != "" {
			fmt.Fprintln(w, warningStyle.Render(line+"  failed: "+entry.Err))
			continue
		}
		fmt.Fprintln(w, line)
		fmt.Fprintln(w, infoStyle.Render("   "+entry.Signature.String()))
	}
	return nil
}
