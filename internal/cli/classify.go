package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/psyclass/internal/model"
	"github.com/ppiankov/psyclass/internal/pipeline"
)

var (
	classifyTitle   string
	classifyComment string
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Score a single comment without touching the database",
	Long: `Classify primes a fresh conversation with the configured model, scores one
(title, comment) pair and prints the eleven scores as JSON.

Example:
  psyclass classify --title '#高考#' --comment '考完了，终于解放了'`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringVar(&classifyTitle, "title", "", "trending topic the comment was posted under")
	classifyCmd.Flags().StringVar(&classifyComment, "comment", "", "comment text")
	_ = classifyCmd.MarkFlagRequired("comment")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	o, closeBackend, err := pipeline.NewOracle(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer func() { _ = closeBackend() }()

	scores, err := o.Classify(ctx, model.Query{Title: classifyTitle, Comment: classifyComment})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	out, err := json.MarshalIndent(scores, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
