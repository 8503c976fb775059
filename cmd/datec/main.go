package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"datec-go/internal/app"
	"datec-go/internal/config"
	"datec-go/internal/datec"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds onto distinct exit statuses for scripts.
func exitCode(err error) int {
	switch datec.KindOf(err) {
	case datec.KindNotFound:
		return 3
	case datec.KindConflict:
		return 4
	case datec.KindForbidden:
		return 5
	case datec.KindInvalidState, datec.KindInvalidInput:
		return 6
	default:
		return 1
	}
}

// asUser is the --as flag: the username the command acts for.
var asUser string

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DatecApp. The caller must defer app.Close().
// needsKey asks for the passphrase on the terminal if blobs are encrypted and
// DATEC_PASSPHRASE is unset.
func newApp(ctx context.Context, operation string, args []string, needsKey bool) (*app.DatecApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := app.OptionsFromEnv()
	if needsKey && cfg.Blob.Encrypt && opts.Passphrase == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		p, err := readPassphrase("Passphrase: ")
		if err != nil {
			return nil, err
		}
		opts.Passphrase = p
	}

	a, err := app.NewDatecApp(ctx, cfg, operation, args, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// action is the body of a command that runs against the app.
type action func(cmd *cobra.Command, a *app.DatecApp, as *datec.Identity, args []string) error

// withApp wraps an action with app setup, --as resolution and teardown.
func withApp(operation string, needsKey bool, fn action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, operation, args, needsKey)
		if err != nil {
			return err
		}
		defer a.Close()

		as, err := a.Identity(ctx, asUser)
		if err != nil {
			a.Fail(err)
			return fmt.Errorf("resolving --as: %w", err)
		}
		if err := fn(cmd, a, as, args); err != nil {
			a.Fail(err)
			return err
		}
		return nil
	}
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty passphrase")
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "datec",
	Short:        "Dataset lifecycle coordinator",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Blobs:     %s (encrypted: %v)\n", cfg.Blob.Type, cfg.Blob.Encrypt)
		fmt.Printf("Graph:     %s\n", cfg.Graph.Type)
		fmt.Printf("Ephemeral: %s\n", cfg.Ephemeral.Type)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nConfiguration is invalid:\n%v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asUser, "as", "", "Username to act as (anonymous when empty)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sagasCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(notificationsCmd)
}
