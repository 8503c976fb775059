package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"datec-go/internal/app"
	"datec-go/internal/datec"
	"datec-go/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the blob encryption key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keyring, err := encryption.NewKeyringFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if keyring.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase := os.Getenv("DATEC_PASSPHRASE")
		if passphrase == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("set DATEC_PASSPHRASE or run from a terminal")
			}
			p1, err := readPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			p2, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if p1 != p2 {
				return errors.New("passphrases do not match")
			}
			passphrase = p1
		}

		if err := keyring.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		fmt.Printf("Key pair written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the saga journal",
	RunE: withApp("history", false, func(cmd *cobra.Command, a *app.DatecApp, _ *datec.Identity, _ []string) error {
		runs, err := a.Service().History(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sagas recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-24s  %s  %-10s  %-8s  %s\n",
				r.ID,
				r.Saga,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.Subject,
			)
			if r.FailedStep != "" {
				fmt.Printf("      failed at %s: %s\n", r.FailedStep, r.Error)
			}
		}
		return nil
	}),
}

var historyLimit int

// sagas command
var sagasCmd = &cobra.Command{
	Use:   "sagas",
	Short: "Describe every multi-store operation and its steps",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range datec.Plans() {
			fmt.Println(p.Saga)
			for i, s := range p.Steps {
				line := fmt.Sprintf("  %d. %-20s %-10s", i+1, s.Name, s.Mode)
				if s.Leaves != "" {
					line += "  on failure leaves: " + s.Leaves
				}
				fmt.Println(strings.TrimRight(line, " "))
			}
		}
	},
}

func init() {
	keysCmd.AddCommand(keysInitCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of sagas to show")
}
