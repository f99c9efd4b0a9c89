package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fitsync/internal/adapters/http/middleware"
	"fitsync/internal/application/projections"
	domainOutbox "fitsync/internal/domain/outbox"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued writes and cached responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			status, err := projections.QueryGetOfflineStatus(cmd.Context(), projections.GetOfflineStatusDeps{
				Cache:   rt.svc.Cache(),
				Queue:   rt.svc.Queue(),
				Monitor: rt.svc.Monitor(),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes against the portal now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{forceOnline: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			res := rt.svc.SyncOfflineData(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, remaining %d\n", res.Replayed, res.Remaining)
			if res.Halted() {
				return fmt.Errorf("stopped at mutation %s: %w", res.FailedID, res.Err)
			}
			return res.Err
		},
	}
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or edit the write queue",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued writes in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			ms, err := rt.svc.Queue().List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isTerminal(out) {
				return writeQueueTable(cmd, ms)
			}
			return writeJSON(out, toQueueRows(ms))
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of writes to list")

	discard := &cobra.Command{
		Use:   "discard ID",
		Short: "Drop a queued write that can never succeed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.svc.Queue().Discard(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, domainOutbox.ErrNotFound) {
					return fmt.Errorf("no queued write with id %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, discard)
	return cmd
}

// queueRow is the JSON form of a queued write.
type queueRow struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

func toQueueRows(ms []domainOutbox.PendingMutation) []queueRow {
	rows := make([]queueRow, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, queueRow{
			ID:         m.ID,
			Method:     m.Method,
			Path:       m.Path,
			EnqueuedAt: m.EnqueuedAt.UTC(),
			Attempts:   m.Attempts,
			LastError:  m.ErrorMessage,
		})
	}
	return rows
}

func writeQueueTable(cmd *cobra.Command, ms []domainOutbox.PendingMutation) error {
	if len(ms) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tPATH\tQUEUED\tATTEMPTS\tLAST ERROR")
	for _, m := range ms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.Method, m.Path, m.EnqueuedAt.Local().Format(time.DateTime), m.Attempts, m.ErrorMessage)
	}
	return tw.Flush()
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached portal responses",
	}
	clearCmd := &cobra.Command{
		Use:   "clear [KEY]",
		Short: "Drop one cached response, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 1 {
				if err := rt.svc.Cache().Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			}
			if err := rt.svc.Cache().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}
	cmd.AddCommand(clearCmd)
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print the bcrypt hash of a local API token for auth.*_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
