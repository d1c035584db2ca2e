package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sift/internal/pipeline"
)

var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Run one URL through the pipeline and print the stored sift",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		user, _ := cmd.Flags().GetString("user")
		tier, _ := cmd.Flags().GetString("tier")
		pendingID, _ := cmd.Flags().GetString("id")

		env, err := initApp(ctx, "submit")
		if err != nil {
			return err
		}
		defer env.Close()

		sift, err := env.Pipeline.Submit(ctx, pipeline.Request{
			URL:       args[0],
			UserID:    user,
			UserTier:  tier,
			PendingID: pendingID,
		})
		if err != nil {
			return eris.Wrap(err, "submit")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sift)
	},
}

func init() {
	submitCmd.Flags().String("user", "cli", "owner user id")
	submitCmd.Flags().String("tier", "", "request tier (free, plus, paid, unlimited, admin)")
	submitCmd.Flags().String("id", "", "pending record id (uuid)")
	rootCmd.AddCommand(submitCmd)
}
