package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tierstore/tierstore/pkg/store"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read a partition's data",
	Long: `Reads the data stored for a feature/tenant partition and prints it
as indented JSON. Triggers the one-time legacy migration if the
partition is empty and pre-partitioning data exists.

Example:
  tierstore get --feature designhistory --tenant acme`,
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set [json]",
	Short: "Write a partition's data",
	Long: `Serializes the given JSON payload into a feature/tenant partition.
Reads from stdin when the argument is "-" or omitted. Writes that
exceed the device quota degrade through the standard ladder.

Example:
  tierstore set --feature designhistory --tenant acme '{"theme":"dark"}'
  cat payload.json | tierstore set --feature designhistory --tenant acme`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSet,
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete a partition's data",
	Long: `Removes the data stored for a feature/tenant partition.

Example:
  tierstore rm --feature designhistory --tenant acme`,
	RunE: runRm,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List all keys on the device",
	Long: `Lists every key on the device, classifying each as a tenant
partition, a legacy key, a migration marker, or an in-flight staged
write.

Example:
  tierstore keys`,
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(keysCmd)

	for _, c := range []*cobra.Command{getCmd, setCmd, rmCmd} {
		c.Flags().StringP("feature", "f", "", "feature name (required)")
		c.Flags().StringP("tenant", "t", "", "tenant identifier (required)")
		_ = c.MarkFlagRequired("feature")
		_ = c.MarkFlagRequired("tenant")
	}
}

func scopedStoreFromFlags(cmd *cobra.Command) (*store.ScopedStore, store.Device, error) {
	feature, _ := cmd.Flags().GetString("feature")
	tenant, _ := cmd.Flags().GetString("tenant")

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dev, err := openDevice(cfg)
	if err != nil {
		return nil, nil, err
	}
	s, err := openScopedStore(cfg, dev, feature, tenant)
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}
	return s, dev, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	s, dev, err := scopedStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	var v any
	found, err := s.GetItem(context.Background(), &v)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if !found {
		return fmt.Errorf("no data stored for this partition")
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	var payload []byte
	if len(args) == 1 && args[0] != "-" {
		payload = []byte(args[0])
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = data
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	s, dev, err := scopedStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	if err := s.SetItem(context.Background(), v); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	stats, err := s.Stats(context.Background())
	if err == nil {
		fmt.Fprintf(os.Stderr, "Stored %d bytes (%d of %d device bytes used)\n",
			stats.PartitionSize, stats.TotalDeviceUsage, stats.TotalDeviceUsage+stats.EstimatedAvailable)
	}
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	s, dev, err := scopedStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	if err := s.RemoveItem(context.Background()); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Deleted")
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	keys, err := dev.Keys(context.Background())
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "Device is empty")
		return nil
	}

	for _, k := range keys {
		fmt.Printf("%-12s %s\n", classifyKey(k), k)
	}
	return nil
}

func classifyKey(key string) string {
	switch {
	case strings.HasSuffix(key, "_migration_completed"):
		return "marker"
	case strings.HasSuffix(key, "_staged") && strings.Count(key, "_") == 2:
		return "staged"
	default:
		if _, _, ok := store.SplitPartitionKey(key); ok {
			return "partition"
		}
		return "legacy"
	}
}
