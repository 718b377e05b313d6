package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	staking_rewards "staking-rewards/solana"
)

const (
	menuCreateProfile = "Create New Profile"
	menuExit          = "Exit"
)

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "staking-rewards",
		Short:         "Stake SPL tokens and earn rewards from the program vault.",
		Long:          `A command-line client for the staking rewards program. Without --rpc-url it runs the program against a local ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          withApp(cfg, runInteractive),
	}
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newProfileCmd(cfg),
		newCreateMintCmd(cfg),
		newCreateAccountCmd(cfg),
		newMintToCmd(cfg),
		newInitializeCmd(cfg),
		newStakeCmd(cfg),
		newDestakeCmd(cfg),
		newFundVaultCmd(cfg),
		newStatusCmd(cfg),
		newStakersCmd(cfg),
		newHistoryCmd(cfg),
		newWarpCmd(cfg),
		newServeCmd(cfg),
	)
	return root
}

// withApp opens the app for the duration of one command.
func withApp(cfg *Config, run func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, a, cmd, args)
	}
}

// runInteractive is the menu driven mode started when no subcommand is given.
func runInteractive(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	banner := figure.NewFigure("STAKING", "larry3d", true)
	fmt.Println(titleStyle.Render(banner.String()))

	if err := ensureAdminProfile(a); err != nil {
		return err
	}
	for {
		profile, err := selectProfile(a)
		if errors.Is(err, errExit) {
			fmt.Println("Exiting staking-rewards.")
			return nil
		}
		if err != nil {
			return err
		}
		if err := profileMenu(ctx, a, profile); err != nil {
			return err
		}
	}
}

var errExit = errors.New("user exited")

// ensureAdminProfile runs the first start setup.
func ensureAdminProfile(a *app) error {
	profiles, err := a.profiles.Profiles()
	if err != nil {
		return err
	}
	if len(profiles) > 0 {
		return nil
	}
	fmt.Println(titleStyle.Render("Welcome! Let's get you set up."))
	fmt.Println(promptStyle.Render("   Creating the default 'admin' profile..."))
	admin, err := a.profiles.CreateProfile("admin")
	if err != nil {
		return fmt.Errorf("failed to create admin profile: %w", err)
	}
	fmt.Println(successStyle.Render("Initialization complete."))
	fmt.Println(promptStyle.Render("   Admin address:"), admin.PublicKey())
	return nil
}

func selectProfile(a *app) (string, error) {
	for {
		profiles, err := a.profiles.Profiles()
		if err != nil {
			return "", err
		}
		options := make([]string, 0, len(profiles)+2)
		for _, p := range profiles {
			options = append(options, p.Name)
		}
		options = append(options, menuCreateProfile, menuExit)

		var selection string
		prompt := &survey.Select{
			Message: promptStyle.Render("Choose a profile to continue:"),
			Options: options,
		}
		if err := survey.AskOne(prompt, &selection); err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				return "", errExit
			}
			return "", err
		}

		switch selection {
		case menuCreateProfile:
			var name string
			if err := survey.AskOne(&survey.Input{Message: "Profile name:"}, &name, survey.WithValidator(survey.Required)); err != nil {
				return "", err
			}
			profile, err := a.profiles.CreateProfile(name)
			if err != nil {
				fmt.Println(warningStyle.Render(err.Error()))
				continue
			}
			fmt.Println(successStyle.Render("Profile created:"), profile.PublicKey())
		case menuExit:
			return "", errExit
		default:
			return selection, nil
		}
	}
}

func profileMenu(ctx context.Context, a *app, profileName string) error {
	client, err := a.client(profileName)
	if err != nil {
		fmt.Println(warningStyle.Render(err.Error()))
		return nil
	}

	fmt.Printf("\n---\n")
	fmt.Println(titleStyle.Render(fmt.Sprintf("Operating with profile: %s", profileName)))
	fmt.Println(promptStyle.Render(fmt.Sprintf("Address: %s", client.PublicKey())))
	fmt.Printf("---\n\n")

	for {
		options := []string{"View Stake Status", "Stake", "Destake", "Fund Vault", "Initialize Vault", "View History", "List Stakers"}
		if a.runtime != nil {
			options = append(options, "Create Token Account", "Warp Clock")
		}
		options = append(options, "Switch Profile")

		var choice string
		menu := &survey.Select{
			Message: promptStyle.Render("Choose an action:"),
			Options: options,
			Help:    "Use the arrow keys to navigate, and press Enter to select.",
		}
		if err := survey.AskOne(menu, &choice); err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				return nil
			}
			return err
		}

		var actionErr error
		switch choice {
		case "View Stake Status":
			actionErr = printStatus(ctx, os.Stdout, client, client.PublicKey())
		case "Stake":
			var amount uint64
			if amount, actionErr = askAmount("Amount to stake (base units):"); actionErr == nil {
				actionErr = printSignature(os.Stdout, "Stake", func() (*solana.Signature, error) { return client.Stake(ctx, amount) })
			}
		case "Destake":
			actionErr = printSignature(os.Stdout, "Destake", func() (*solana.Signature, error) { return client.Destake(ctx) })
		case "Fund Vault":
			var amount uint64
			if amount, actionErr = askAmount("Amount to deposit into the vault (base units):"); actionErr == nil {
				actionErr = printSignature(os.Stdout, "Fund vault", func() (*solana.Signature, error) { return client.FundVault(ctx, amount) })
			}
		case "Initialize Vault":
			actionErr = printSignature(os.Stdout, "Initialize", func() (*solana.Signature, error) { return client.Initialize(ctx) })
		case "View History":
			actionErr = printHistory(ctx, os.Stdout, client, client.PublicKey(), 10)
		case "List Stakers":
			actionErr = printStakers(ctx, os.Stdout, client)
		case "Create Token Account":
			actionErr = printSignature(os.Stdout, "Create token account", func() (*solana.Signature, error) {
				return client.CreateTokenAccount(ctx, client.PublicKey())
			})
		case "Warp Clock":
			var slots uint64
			if slots, actionErr = askAmount("Slots to advance:"); actionErr == nil {
				actionErr = warp(ctx, os.Stdout, a, slots)
			}
		case "Switch Profile":
			return nil
		}
		if actionErr != nil {
			fmt.Println(warningStyle.Render(fmt.Sprintf("Failed: %v", describeError(actionErr))))
		}
		fmt.Println()
	}
}

func askAmount(message string) (uint64, error) {
	var raw string
	if err := survey.AskOne(&survey.Input{Message: message}, &raw, survey.WithValidator(survey.Required)); err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: must be a whole number of base units", raw)
	}
	return amount, nil
}

// describeError appends the program error category when there is one.
func describeError(err error) string {
	var progErr *staking_rewards.ProgramError
	if errors.As(err, &progErr) {
		return fmt.Sprintf("%v [%s]", err, progErr.Kind)
	}
	return err.Error()
}

// Execute runs the root command.
func Execute() {
	cfg := LoadDefaults()
	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, warningStyle.Render(err.Error()))
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, warningStyle.Render(describeError(err)))
		os.Exit(1)
	}
}
