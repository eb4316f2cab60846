package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/psyclass/internal/pipeline"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify new upstream records in batches",
	Long: `Run pages through the upstream table after the saved watermark, scores each
record with the configured model, writes the results and advances the
watermark after every committed batch.

Ctrl-C stops after the record in flight; the classified part of the batch
is still written.

Example:
  psyclass run
  psyclass run --iterations 50 --batch-size 10
  psyclass run --driver mysql --dsn 'user:pass@tcp(db:3306)/weibo?parseTime=true'
  psyclass run --provider ollama --model qwen2.5:14b`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("iterations", 0, "number of batch cycles (default from config)")
	runCmd.Flags().Int("batch-size", 0, "records per batch (default from config)")
	runCmd.Flags().String("skip-policy", "", "what to do with unclassifiable records (advance, block)")
	runCmd.Flags().String("driver", "", "database driver (sqlite, postgres, mysql)")
	runCmd.Flags().String("dsn", "", "database connection string")
	runCmd.Flags().String("watermark", "", "watermark file path")

	_ = viper.BindPFlag("pipeline.iterations", runCmd.Flags().Lookup("iterations"))
	_ = viper.BindPFlag("pipeline.batch_size", runCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("pipeline.skip_policy", runCmd.Flags().Lookup("skip-policy"))
	_ = viper.BindPFlag("database.driver", runCmd.Flags().Lookup("driver"))
	_ = viper.BindPFlag("database.dsn", runCmd.Flags().Lookup("dsn"))
	_ = viper.BindPFlag("watermark.path", runCmd.Flags().Lookup("watermark"))
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := pipeline.FromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("shutdown", zap.Error(cerr))
		}
	}()

	stats, err := rt.Driver.Run(ctx, cfg.Pipeline.Iterations)
	printStats(cmd.OutOrStdout(), stats)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Interrupted; watermark saved at", stats.Watermark)
	}
	return nil
}

func printStats(w io.Writer, s pipeline.Stats) {
	fmt.Fprintf(w, "Cycles:       %d\n", s.Cycles)
	fmt.Fprintf(w, "Records:      %d\n", s.Records)
	fmt.Fprintf(w, "Classified:   %d\n", s.Classified)
	fmt.Fprintf(w, "Skipped:      %d\n", s.Skipped)
	fmt.Fprintf(w, "Memo hits:    %d\n", s.MemoHits)
	fmt.Fprintf(w, "Rows written: %d\n", s.RowsWritten)
	fmt.Fprintf(w, "Watermark:    %d\n", s.Watermark)
}
