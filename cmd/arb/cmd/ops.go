package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborfs/arbor/pkg/types"
)

// runOp dials, runs one operation and prints per-path outcomes.
func runOp(op types.Op) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Do(ctx, op)
	if err != nil {
		return fmt.Errorf("operation failed: %w", err)
	}
	return printResults(results)
}

func printResults(results []types.PathResult) error {
	failed := 0
	for _, r := range results {
		if r.OK {
			if r.Dest != "" {
				fmt.Printf("✓ %s -> %s\n", r.Path, r.Dest)
			} else {
				fmt.Printf("✓ %s\n", r.Path)
			}
			continue
		}
		failed++
		fmt.Printf("✗ %s: %s (%s)\n", r.Path, r.Error, r.Code)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d paths failed", failed, len(results))
	}
	return nil
}

var touchCmd = &cobra.Command{
	Use:   "touch <path>...",
	Short: "Create empty files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(types.Op{Kind: types.OpCreateFile, Paths: args})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(types.Op{Kind: types.OpCreateDir, Paths: args})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dest>",
	Short: "Rename or move an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		return runOp(types.Op{Kind: types.OpRename, Paths: args[:1], Dest: args[1], Overwrite: overwrite})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src>... <dest-dir>",
	Short: "Copy entries into a directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		n := len(args)
		return runOp(types.Op{Kind: types.OpCopy, Paths: args[:n-1], Dest: args[n-1], Overwrite: overwrite})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Trash entries (or delete permanently with --permanent)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		permanent, _ := cmd.Flags().GetBool("permanent")
		if permanent {
			return runOp(types.Op{Kind: types.OpDelete, Paths: args, Permanent: true})
		}
		return runOp(types.Op{Kind: types.OpTrash, Paths: args})
	},
}

var pasteCmd = &cobra.Command{
	Use:   "paste <dest-dir>",
	Short: "Materialize the shared clipboard into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		results, err := c.Paste(ctx, args[0])
		if err != nil {
			return fmt.Errorf("paste failed: %w", err)
		}
		return printResults(results)
	},
}

var clipCmd = &cobra.Command{
	Use:   "clip <copy|cut|show> [path]...",
	Short: "Drive the shared clipboard",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		switch args[0] {
		case "copy":
			return c.Copy(ctx, args[1:]...)
		case "cut":
			return c.Cut(ctx, args[1:]...)
		case "show":
			paths, mode, err := c.Clipboard(ctx)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Println("(clipboard empty)")
				return nil
			}
			fmt.Printf("mode: %s\n", mode)
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		default:
			return fmt.Errorf("unknown clipboard action %q", args[0])
		}
	},
}

func init() {
	mvCmd.Flags().Bool("overwrite", false, "replace an existing destination")
	cpCmd.Flags().Bool("overwrite", false, "replace existing destinations")
	rmCmd.Flags().Bool("permanent", false, "bypass the trash")

	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(pasteCmd)
	rootCmd.AddCommand(clipCmd)
}
