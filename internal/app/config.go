package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/config"
)

var (
	configForce bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Create or show the configuration",
		Long: `Manage the snapferry configuration file.

Settings are merged from, in increasing priority: built-in defaults, the
config file, SNAPFERRY_* environment variables and command-line flags.
Environment variables use "__" between section and key, for example
SNAPFERRY_RETENTION__MAX_AGE=48h.`,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Example: `  snapferry config init --source /mnt/fsroot/snapshots --destination /mnt/backup
  snapferry --config /etc/snapferry.yaml config init --force`,
		Args: cobra.NoArgs,
		RunE: runConfigInit,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
)

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	RootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
		path = defaultPath
	}

	cfg := config.Default()
	cfg.Source = sourcePath
	cfg.Destination = destPath
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Btrfs.DryRun = dryRun

	if err := config.Write(path, cfg, configForce); err != nil {
		return err
	}

	fmt.Println("✓ Wrote", path)
	if cfg.Source == "" || cfg.Destination == "" {
		fmt.Println()
		fmt.Println("Set source and destination before running a backup.")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, file, err := readConfig(nil)
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if file == "" {
		fmt.Println("# no config file, defaults and environment only")
	} else {
		fmt.Println("# loaded from", file)
	}
	fmt.Print(string(data))

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Println("# invalid:", err)
	}
	return nil
}
