package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Synternet/bondingcurve-indexer/cmd/flags"
	indexerimpl "github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

var (
	flagPublish     *bool
	flagTokenLimit  *int
	flagTokenFilter *flags.Addresses
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Run one snapshot pass and print the run summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a := mustApp(ctx, appOptions{publish: *flagPublish})
		defer a.Close()

		result, err := a.indexer.RunOnce(ctx)
		if errors.Is(err, indexerimpl.ErrRunInProgress) {
			return fmt.Errorf("another run holds the lease: %w", err)
		}
		if err != nil {
			return err
		}
		return printJSON(types.NewRunResponse(result))
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics [TOKEN...]",
	Short: "Print live price, 24h change, market cap and 24h volume of tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens := indexerimpl.NormalizeTokens(append(args, *flagTokenFilter.Value...))
		if len(tokens) == 0 {
			return errors.New("at least one token is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a := mustApp(ctx, appOptions{})
		defer a.Close()

		return printJSON(a.indexer.TokenMetrics(ctx, tokens))
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List tokens registered with the factory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a := mustApp(ctx, appOptions{})
		defer a.Close()

		tokens, err := a.indexer.ListTokens(ctx, *flagTokenLimit)
		if err != nil {
			return err
		}
		return printJSON(tokens)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openDatabase()
		if err != nil {
			return err
		}
		idx := indexerimpl.New(nil, nil, repo, nil, cfg.IndexerConfig(), indexerimpl.WithLogger(logger))

		deleted, err := idx.Prune(context.Background())
		if err != nil {
			return err
		}
		remaining, err := repo.CountSnapshots()
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"pruned": deleted, "remaining": remaining, "retention": idx.Retention().String()})
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd, metricsCmd, tokensCmd, pruneCmd)

	flagPublish = snapshotCmd.Flags().Bool("publish", false, "Publish snapshots and the run summary to NATS")
	flagTokenLimit = tokensCmd.Flags().Int("limit", indexerimpl.DefaultListLimit, "Maximum number of tokens to list")

	addresses, _ := flags.NewAddresses("")
	flagTokenFilter = metricsCmd.Flags().VarPF(addresses, "tokens", "t", "Comma separated token addresses, in addition to arguments").Value.(*flags.Addresses)
}
