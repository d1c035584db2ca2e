package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sift/internal/model"
)

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Manage user subscription tiers",
}

var tierSetCmd = &cobra.Command{
	Use:   "set <user-id> <tier>",
	Short: "Set a user's tier (free, plus, paid, unlimited, admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tier, err := parseTierArg(args[1])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetTier(ctx, args[0], tier); err != nil {
			return eris.Wrap(err, "tier set")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], tier)
		return nil
	},
}

var tierGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user's stored tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProfile(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tier get")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (updated %s)\n", p.UserID, p.Tier, p.UpdatedAt.Format("2006-01-02 15:04"))
		return nil
	},
}

// parseTierArg rejects unknown tiers instead of mapping them to free.
func parseTierArg(raw string) (model.Tier, error) {
	t := model.Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", eris.Errorf("unknown tier %q", raw)
	}
	return t, nil
}

func init() {
	tierCmd.AddCommand(tierSetCmd, tierGetCmd)
	rootCmd.AddCommand(tierCmd)
}
