package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/caretree/internal/presentation/graph"
	"github.com/aretw0/caretree/pkg/adapters/file"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <version-file>",
	Short: "Export the protocol graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of a protocol version. With --session,
the path a stored session took is highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := file.LoadVersion(args[0])
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if path, _ := cmd.Flags().GetString("session"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var s domain.Session
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", path, err)
			}
			if s.VersionID != v.ID {
				return fmt.Errorf("session %s ran version %s, not %s", s.ID, s.VersionID, v.ID)
			}
			overlay = graph.OverlayFor(&s)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(v, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Session JSON whose path is highlighted")
}
