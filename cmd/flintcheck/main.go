// Command flintcheck is a small diagnostic CLI over a table's on-disk
// files: inspecting its .desc document, replaying WAL recovery without
// opening a full Table, and printing the page store's header.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flintdb/flint/pkg/page"
	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/wal"
)

func main() {
	root := &cobra.Command{
		Use:   "flintcheck",
		Short: "diagnostic tooling for a flintdb table's on-disk files",
	}
	root.AddCommand(descCmd(), recoverCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func descCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "desc <path>",
		Short: "print a table's .desc document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0] + ".desc")
			if err != nil {
				return err
			}
			doc, err := schema.ReadDesc(data)
			if err != nil {
				return err
			}
			for _, elem := range doc {
				fmt.Printf("%s: %v\n", elem.Key, elem.Value)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <path>",
		Short: "print a table's page store header without replaying its WAL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := page.Open(args[0], 0)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("page_size: %d\n", store.PageSize())
			fmt.Printf("next_page_id: %d\n", store.NextPageID())
			fmt.Printf("free_list_head: %d\n", store.FreeListHead())
			fmt.Printf("schema_fingerprint: %d\n", store.SchemaFingerprint())
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <path>",
		Short: "replay a table's WAL against its page store and report what it did",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := page.Open(args[0], 0)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := wal.Recover(args[0]+".wal", store)
			if err != nil {
				return err
			}
			fmt.Printf("committed_txns: %d\n", result.CommittedTxns)
			fmt.Printf("rolled_back_txns: %d\n", result.RolledBackTxns)
			fmt.Printf("redo_applied: %d\n", result.RedoApplied)
			fmt.Printf("undo_applied: %d\n", result.UndoApplied)
			fmt.Printf("tail_was_truncated: %t\n", result.TailWasTruncated)
			fmt.Printf("safe_lsn: %d\n", result.SafeLSN)
			return store.Sync()
		},
	}
}
