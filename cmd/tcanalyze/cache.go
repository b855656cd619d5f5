package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entries and storage policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		manager := a.Cache()
		if manager == nil {
			fmt.Fprintln(out, "cache disabled")
			return nil
		}
		entries, err := a.CacheEntries(cmd.Context())
		if err != nil {
			return err
		}
		policy := manager.Policy()
		fmt.Fprintf(out, "backend:          %s\n", cfg.CacheBackend)
		fmt.Fprintf(out, "live entries:     %d\n", entries)
		fmt.Fprintf(out, "min characters:   %d\n", policy.MinChars)
		fmt.Fprintf(out, "ttl:              %s (extended %s)\n", policy.BaseTTL, policy.ExtendedTTL)
		fmt.Fprintf(out, "high cost above:  $%.4f\n", policy.HighCost)
		fmt.Fprintf(out, "high confidence:  %.2f\n", policy.HighConfidence)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate FILE...",
	Short: "Drop cached results for the given documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Cache() == nil {
			return fmt.Errorf("cache is disabled")
		}
		for _, path := range args {
			doc, err := readDocument(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			removed := a.Cache().Invalidate(cmd.Context(), doc.Text)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: invalidated=%t\n", path, removed)
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		removed, err := a.PurgeExpired(context.WithoutCancel(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}
