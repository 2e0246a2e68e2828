package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tierstore/tierstore/pkg/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show device and partition usage",
	Long: `Prints device quota usage. With --feature and --tenant, also prints
the size of that partition.

Example:
  tierstore stats
  tierstore stats --feature designhistory --tenant acme`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringP("feature", "f", "", "feature name")
	statsCmd.Flags().StringP("tenant", "t", "", "tenant identifier")
}

func runStats(cmd *cobra.Command, args []string) error {
	feature, _ := cmd.Flags().GetString("feature")
	tenant, _ := cmd.Flags().GetString("tenant")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	ctx := context.Background()
	devStats, err := dev.Stats(ctx)
	if err != nil {
		return fmt.Errorf("device stats: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Device ===")
	fmt.Println()
	fmt.Printf("Backend:    %s\n", cfg.Store.Backend)
	fmt.Printf("Used:       %d bytes\n", devStats.Used)
	fmt.Printf("Quota:      %d bytes\n", devStats.Quota)
	fmt.Printf("Available:  %d bytes\n", devStats.Available())
	if devStats.Quota > 0 {
		fmt.Printf("Usage:      %.1f%%\n", float64(devStats.Used)/float64(devStats.Quota)*100)
	}

	if feature == "" && tenant == "" {
		return printKeyBreakdown(ctx, dev)
	}
	if feature == "" || tenant == "" {
		return fmt.Errorf("--feature and --tenant must be given together")
	}

	s, err := openScopedStore(cfg, dev, feature, tenant)
	if err != nil {
		return err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return fmt.Errorf("partition stats: %w", err)
	}

	fmt.Println()
	fmt.Printf("=== Partition %s_%s ===\n", feature, tenant)
	fmt.Println()
	fmt.Printf("Size:       %d bytes\n", stats.PartitionSize)
	return nil
}

func printKeyBreakdown(ctx context.Context, dev store.Device) error {
	keys, err := dev.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	counts := map[string]int{}
	for _, k := range keys {
		counts[classifyKey(k)]++
	}

	fmt.Println()
	fmt.Printf("Keys:       %d total", len(keys))
	for _, class := range []string{"partition", "legacy", "marker", "staged"} {
		if counts[class] > 0 {
			fmt.Printf(", %d %s", counts[class], class)
		}
	}
	fmt.Println()
	return nil
}
