package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerline/erpbackup/internal/backup"
	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/logger"
	"github.com/ledgerline/erpbackup/internal/snapshot"
	"github.com/ledgerline/erpbackup/internal/vault"
)

var (
	configFile string
	debug      bool

	// rootCmd is the base command for erpbackup.
	rootCmd = &cobra.Command{
		Use:   "erpbackup",
		Short: "Backup and restore engine for a live ERP instance",
		Long: `erpbackup creates consistent point-in-time backups of the ERP
database and its file trees, restores them safely, and manages the
backup store according to your YAML configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logger.Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "./configs/config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(runCmd)
}

// newService loads the configuration and wires the backup engine: logger,
// dialect snapshotter, and Vault-issued credentials when Vault is configured.
func newService(ctx context.Context) (*backup.Service, *config.Config, logger.Logger, error) {
	log, err := logger.Init(debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	var cfg config.Config
	if err := cfg.Load(configFile); err != nil {
		return nil, nil, nil, err
	}

	var snapOpts []snapshot.Option
	if cfg.Vault.Address != "" {
		creds, err := resolveVaultCredentials(ctx, &cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		snapOpts = append(snapOpts, creds)
	}

	snap, err := snapshot.FromConfig(&cfg, log, snapOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	svc, err := backup.New(&cfg, snap, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return svc, &cfg, log, nil
}

// resolveVaultCredentials fetches short-lived database credentials from the
// configured Vault role and returns them as a snapshotter option.
func resolveVaultCredentials(ctx context.Context, cfg *config.Config) (snapshot.Option, error) {
	client, err := vault.NewClient(ctx,
		vault.WithAddress(cfg.Vault.Address),
		vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to vault: %w", err)
	}
	creds, err := client.GetDynamicCredentials(ctx, cfg.Vault.RolePath)
	if err != nil {
		return nil, fmt.Errorf("fetch database credentials: %w", err)
	}
	return snapshot.WithCredentials(creds.Username, creds.Password), nil
}

// confirm prompts on stdin for a destructive operation unless yes is set.
func confirm(prompt string, yes bool) bool {
	if yes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}
