package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tierstore/tierstore/pkg/store"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact stored partitions to reclaim device space",
	Long: `Walks every tenant partition on the device and rewrites its payload
through the blob-stripping compaction pass, reclaiming space ahead of
quota pressure.

Example:
  tierstore compact
  tierstore compact --feature designhistory`,
	RunE: runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)

	compactCmd.Flags().StringP("feature", "f", "", "only compact partitions of this feature")
}

func runCompact(cmd *cobra.Command, args []string) error {
	onlyFeature, _ := cmd.Flags().GetString("feature")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	keys, err := dev.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	type target struct {
		feature string
		tenant  string
	}
	var targets []target
	for _, k := range keys {
		feature, tenant, ok := store.SplitPartitionKey(k)
		if !ok {
			continue
		}
		if onlyFeature != "" && feature != onlyFeature {
			continue
		}
		targets = append(targets, target{feature: feature, tenant: tenant})
	}

	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to compact.")
		return nil
	}

	// Create progress bar
	bar := progressbar.NewOptions64(
		int64(len(targets)),
		progressbar.OptionSetDescription("Compacting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("partitions"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	start := time.Now()
	var reclaimed int64
	var compacted, failed int
	for _, tg := range targets {
		if ctx.Err() != nil {
			break
		}

		s, err := openScopedStore(cfg, dev, tg.feature, tg.tenant)
		if err != nil {
			failed++
			_ = bar.Add64(1)
			continue
		}
		n, err := s.Compact(ctx)
		if err != nil {
			failed++
		} else if n > 0 {
			compacted++
			reclaimed += n
		}
		_ = bar.Add64(1)
	}

	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	printCompactSummary(len(targets), compacted, failed, reclaimed, time.Since(start))

	if failed > 0 {
		return fmt.Errorf("%d partitions failed to compact", failed)
	}
	return ctx.Err()
}

func printCompactSummary(total, compacted, failed int, reclaimed int64, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("=== Compact Complete ===")
	fmt.Println()
	fmt.Printf("Partitions scanned:   %d\n", total)
	fmt.Printf("Partitions reduced:   %d\n", compacted)
	fmt.Printf("Partitions failed:    %d\n", failed)
	fmt.Printf("Bytes reclaimed:      %d\n", reclaimed)
	fmt.Printf("Duration:             %v\n", elapsed.Round(time.Millisecond))
	fmt.Println()
}
