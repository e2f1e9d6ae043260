package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kitedb/kitedb"
)

var sidecarPath string

func init() {
	for _, c := range []*cobra.Command{statusCmd, retentionCmd} {
		c.Flags().StringVar(&sidecarPath, "sidecar", "", "replication sidecar directory (required)")
		c.MarkFlagRequired("sidecar")
	}
}

const (
	defaultSegmentMaxBytes     = 64 << 20
	defaultRetentionMinEntries = 1024
)

var statusCmd = &cobra.Command{
	Use:   "status PATH",
	Short: "Report this database's replication role, epoch, and position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := kitedb.Open(args[0],
			kitedb.WithReadOnly(),
			kitedb.WithLogger(newLogger()),
			kitedb.WithPrimaryReplication(sidecarPath, defaultSegmentMaxBytes, defaultRetentionMinEntries))
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer db.Close()

		st := db.Status()
		fmt.Printf("role:           %s\n", st.Role)
		fmt.Printf("epoch:          %d\n", st.Epoch)
		fmt.Printf("head log index: %d\n", st.HeadLogIndex)
		fmt.Printf("retained floor: %d\n", st.RetainedFloor)
		if st.LastToken != nil {
			fmt.Printf("last token:     %s\n", st.LastToken)
		}
		return nil
	},
}

var retentionCmd = &cobra.Command{
	Use:   "retention PATH",
	Short: "Prune primary log segments older than every registered replica's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := kitedb.Open(args[0],
			kitedb.WithReadOnly(),
			kitedb.WithLogger(newLogger()),
			kitedb.WithPrimaryReplication(sidecarPath, defaultSegmentMaxBytes, defaultRetentionMinEntries))
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer db.Close()

		outcome, err := db.RunRetention()
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		fmt.Printf("pruned segments: %d\n", outcome.PrunedSegments)
		fmt.Printf("retained floor:  %d\n", outcome.RetainedFloor)
		return nil
	},
}
