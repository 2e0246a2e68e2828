package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tierstore/tierstore/pkg/config"
	"github.com/tierstore/tierstore/pkg/store"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tierstore",
	Short: "Tierstore - Quota-aware tiered storage with graceful degradation",
	Long: `Tierstore is a two-tier storage layer: a bounded in-memory cache in
front of a quota-limited persistent device. When the device quota is
hit, writes degrade through progressively lossier tiers instead of
failing outright.

Features:
  - Per-(feature, tenant) data partitioning
  - 4-tier degradation ladder: cleanup, compaction, extraction, minimal fallback
  - One-shot migration of pre-partitioning data
  - Corruption self-healing on read`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tierstore.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().String("backend", "", "device backend: memory, file, or sqlite")
	rootCmd.PersistentFlags().String("path", "", "device path (sqlite file or directory)")
	rootCmd.PersistentFlags().Int64("quota", 0, "device quota in bytes")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("path"))
	_ = viper.BindPFlag("store.quota_bytes", rootCmd.PersistentFlags().Lookup("quota"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tierstore")
	}

	// Read environment variables
	viper.SetEnvPrefix("TIERSTORE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig resolves the effective configuration from file, env and flags.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// openDevice opens the configured device backend.
func openDevice(cfg *config.Config) (store.Device, error) {
	switch cfg.Store.Backend {
	case "memory", "":
		return store.NewMemoryDevice(cfg.Store.QuotaBytes), nil
	case "file":
		return store.NewFileDevice(cfg.Store.Path, cfg.Store.QuotaBytes)
	case "sqlite":
		return store.OpenSQLiteDevice(cfg.Store.Path, cfg.Store.QuotaBytes)
	default:
		return nil, fmt.Errorf("unsupported backend %q (supported: memory, file, sqlite)", cfg.Store.Backend)
	}
}

// openScopedStore binds a store to the feature/tenant pair given on the
// command line.
func openScopedStore(cfg *config.Config, dev store.Device, feature, tenant string) (*store.ScopedStore, error) {
	return store.NewScopedStore(dev, store.Config{
		Feature:           feature,
		Tenant:            tenant,
		SoftItemLimit:     cfg.Store.SoftItemLimitBytes,
		KeepRecords:       cfg.Store.KeepRecords,
		MaxTextLen:        cfg.Store.MaxTextLen,
		EphemeralFeatures: cfg.Store.EphemeralFeatures,
	})
}
