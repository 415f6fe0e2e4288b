package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantrail/fixcore/internal/replayindex"
)

// maxSeqNo stands in for "through the latest sequence number", mirroring
// the replayer's own treatment of a ResendRequest EndSeqNo of 0 (spec.md
// §9 "end == 0... through latest").
const maxSeqNo = 1<<31 - 1

func replayIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay-index",
		Short: "Dump replay-index ring contents",
	}

	cmd.AddCommand(replayIndexLookupCmd())

	return cmd
}

func replayIndexLookupCmd() *cobra.Command {
	var (
		sessionID int32
		streamID  int32
		beginSeq  int32
		endSeq    int32
	)

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "List indexed records for a session/stream sequence-number range",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			end := endSeq
			if end == 0 {
				end = maxSeqNo
			}

			manager := replayindex.NewManager(cfg.Index.Dir, cfg.Index.FileSize, cfg.Index.CacheCapacity, func(err error) {
				fmt.Fprintln(os.Stderr, "warning:", err)
			})
			defer manager.Close()

			records, err := manager.LookupRange(sessionID, streamID, beginSeq, end)
			if err != nil {
				return fmt.Errorf("lookup range: %w", err)
			}

			out, err := formatRecords(records, outputFormat)
			if err != nil {
				return fmt.Errorf("format records: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int32Var(&sessionID, "session", 0, "session id (required)")
	flags.Int32Var(&streamID, "stream", 0, "stream id (required)")
	flags.Int32Var(&beginSeq, "begin", 1, "beginning sequence number, inclusive")
	flags.Int32Var(&endSeq, "end", 0, "ending sequence number, inclusive; 0 means through the latest indexed record")

	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}
