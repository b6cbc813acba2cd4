package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"peerdrop/internal/ui"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transfers",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runHistory(historyLimit); err != nil {
			logrus.Fatalf("History failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of transfers to list")
}

func runHistory(limit int) error {
	st := openStore()
	if st == nil {
		return fmt.Errorf("transfer history unavailable")
	}
	defer st.Close()

	recs, err := st.RecentTransfers(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No transfers recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDIRECTION\tFILE\tSIZE\tSTATUS")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.FinishedAt.Format("2006-01-02 15:04"),
			rec.Direction,
			rec.FileName,
			ui.FormatFileSize(int64(rec.FileSize)),
			rec.Status,
		)
	}
	return w.Flush()
}
