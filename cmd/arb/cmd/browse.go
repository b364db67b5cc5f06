package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborfs/arbor/pkg/client"
	"github.com/arborfs/arbor/pkg/types"
)

const callTimeout = 30 * time.Second

func dial(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to arbord: %w", err)
	}
	return c, nil
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory of the served tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		_, entries, err := c.Hello(ctx, root, &showHidden)
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("(empty directory)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			typ := "-"
			if e.Kind == types.KindDir {
				typ = "d"
			} else if e.Kind == types.KindSymlink {
				typ = "l"
			}
			status := string(e.Status)
			if e.Status == types.StatusNotApplicable || e.Status == types.StatusClean {
				status = ""
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", typ, e.Size, e.Name, status)
		}
		return w.Flush()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Stream live changes of a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		effective, _, err := c.Hello(ctx, root, &showHidden)
		if err != nil {
			return fmt.Errorf("failed to open directory: %w", err)
		}
		fmt.Printf("watching %s (ctrl-c to stop)\n", effective)

		for d := range c.Deltas() {
			switch d.Kind {
			case types.DeltaAdded:
				fmt.Printf("+ %s\n", d.Path)
			case types.DeltaRemoved:
				fmt.Printf("- %s\n", d.Path)
			case types.DeltaUpdated:
				fmt.Printf("~ %s\n", d.Path)
			case types.DeltaStatus:
				if d.Entry != nil {
					fmt.Printf("@ %s (%s)\n", d.Path, d.Entry.Status)
				}
			case types.DeltaResync:
				fmt.Println("! server dropped updates, view may be stale")
			case types.DeltaRootInvalidated:
				fmt.Println("! root directory disappeared")
				return nil
			case types.DeltaWatchDegraded:
				fmt.Println("! filesystem watch degraded, refresh manually")
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search visible entry names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exact, _ := cmd.Flags().GetBool("exact")

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, _, err := c.Hello(ctx, "", &showHidden); err != nil {
			return fmt.Errorf("failed to open tree: %w", err)
		}
		matches, err := c.Search(ctx, args[0], exact)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for _, m := range matches {
			fmt.Println(m)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Bool("exact", false, "match the whole name instead of a substring")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(searchCmd)
}
