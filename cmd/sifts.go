package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/store"
)

var siftsCmd = &cobra.Command{
	Use:   "sifts",
	Short: "List a user's sifts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		user, _ := cmd.Flags().GetString("user")
		archived, _ := cmd.Flags().GetBool("archived")
		limit, _ := cmd.Flags().GetInt("limit")
		if user == "" {
			return eris.New("--user is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sifts, err := st.ListSifts(ctx, store.SiftFilter{UserID: user, Archived: archived, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "sifts list")
		}

		if len(sifts) == 0 {
			fmt.Fprintln(os.Stderr, "No sifts found.")
			return nil
		}

		formatSiftsList(cmd.OutOrStdout(), sifts)
		return nil
	},
}

func formatSiftsList(w io.Writer, sifts []model.Sift) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPLATFORM\tCATEGORY\tTAGS\tTITLE\tCREATED")
	for _, s := range sifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID),
			s.Status(),
			s.Platform,
			s.Category,
			strings.Join(s.Tags, ","),
			truncateTitle(s.Title, 48),
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateTitle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	siftsCmd.Flags().String("user", "", "owner user id")
	siftsCmd.Flags().Bool("archived", false, "list archived sifts instead of live ones")
	siftsCmd.Flags().Int("limit", 50, "maximum number of sifts")
	rootCmd.AddCommand(siftsCmd)
}
