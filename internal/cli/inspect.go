package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/fbs-kiosk/internal/config"
	"github.com/ChuLiYu/fbs-kiosk/internal/snapshot"
	"github.com/ChuLiYu/fbs-kiosk/internal/storage/wal"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// ============================================================================
// inspect：離線檢查佇列的快照與 WAL（fbsd 不需執行）
// ============================================================================

func buildInspectCommand() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:       "inspect <checkout|checkin>",
		Short:     "Inspect the snapshot and WAL of an offline queue",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.JobCheckout), string(types.JobCheckin)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			t := types.JobType(args[0])
			if t != types.JobCheckout && t != types.JobCheckin {
				return fmt.Errorf("unknown queue %q", args[0])
			}
			return inspectQueue(cmd.OutOrStdout(), cfg, t, dump)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "print every WAL event")
	return cmd
}

func inspectQueue(out io.Writer, cfg *config.Config, t types.JobType, dump bool) error {
	fmt.Fprintf(out, "Queue %s\n", t)

	if cfg.Storage.Snapshot == config.SnapshotFile {
		m := snapshot.NewManager(cfg.SnapshotPath(t))
		if !m.Exists() {
			fmt.Fprintf(out, "  snapshot:  none at %s\n", m.GetPath())
		} else {
			data, err := m.Load()
			if err != nil {
				return fmt.Errorf("failed to load snapshot: %w", err)
			}
			byStatus := make(map[types.JobStatus]int)
			for _, job := range data.Jobs {
				byStatus[job.Status]++
			}
			fmt.Fprintf(out, "  snapshot:  %s (last_seq=%d next_id=%d completed=%d)\n",
				m.GetPath(), data.LastSeq, data.NextID, data.Completed)
			fmt.Fprintf(out, "  jobs:      waiting=%d active=%d delayed=%d failed=%d\n",
				byStatus[types.StatusWaiting], byStatus[types.StatusActive],
				byStatus[types.StatusDelayed], byStatus[types.StatusFailed])
		}
	} else {
		fmt.Fprintf(out, "  snapshot:  redis key %s\n", cfg.RedisKey(t))
	}

	path := cfg.WALPath(t)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(out, "  wal:       none at %s\n", path)
		return nil
	}
	count, err := wal.CountEvents(path)
	if err != nil {
		fmt.Fprintf(out, "  wal:       %s (%d readable events, %v)\n", path, count, err)
	} else {
		fmt.Fprintf(out, "  wal:       %s (%d events)\n", path, count)
	}
	if dump {
		fmt.Fprintln(out)
		return wal.DumpWAL(path, out)
	}
	return nil
}
