package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conceptmesh/mesh-go/pkg/store"
)

var (
	replayOut string

	replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a store from the audit archive",
		Long:  longReplay,
		RunE: func(cmd *cobra.Command, args []string) error {
			auditLog, err := openArchive()
			if err != nil {
				return err
			}
			defer auditLog.Close()

			s, writer, _ := store.New()

			skipped, err := auditLog.Rebuild(cmd.Context(), 0, writer)
			if err != nil {
				return fmt.Errorf("replay halted: %w", err)
			}

			fmt.Printf("replayed %d frames: %d concepts, version %d\n",
				auditLog.Len(), s.Len(), s.Version())
			if len(skipped) > 0 {
				fmt.Printf("skipped %d corrupt frames: %v\n", len(skipped), skipped)
			}

			if replayOut != "" {
				if err := s.SaveSnapshot(replayOut); err != nil {
					return err
				}
				fmt.Printf("snapshot written to %s\n", replayOut)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "", "Write the rebuilt state as a JSON snapshot")
}

var longReplay = `
Replay rebuilds the full mesh state by applying every archived mutation
in sequence order, exactly as the server does on startup. Corrupt frames
are skipped and listed. Use --out to persist the rebuilt state as a JSON
snapshot for offline inspection.

Examples:
  # Rebuild and summarize
  mesh-go replay

  # Rebuild and dump the state
  mesh-go replay --out /tmp/mesh-state.json
`
