package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/caretree/pkg/adapters/file"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/spf13/cobra"
)

// replayReport compares what a recorded session claims with the replayed outcome.
type replayReport struct {
	LocalID  string           `json:"localId,omitempty"`
	Claimed  claimed          `json:"claimed"`
	Replayed engine.Outcome   `json:"replayed"`
	Match    bool             `json:"match"`
	Kind     domain.ErrorKind `json:"error,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type claimed struct {
	TotalScore    int             `json:"totalScore"`
	FinalPriority domain.Priority `json:"finalPriority"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <version-file> <session-file>",
	Short: "Re-derive the outcome of a recorded session",
	Long: `Replays the responses of a queued offline session (JSON) against a protocol
version document and compares the score and priority with what the device
recorded. Exits non-zero when the history is invalid or the outcome differs.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		v, err := file.LoadVersion(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var item domain.OfflineSession
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[1], err)
		}

		report := replayReport{
			LocalID: item.LocalID,
			Claimed: claimed{TotalScore: item.TotalScore, FinalPriority: item.FinalPriority},
		}
		out, replayErr := engine.New(engine.WithMaxHops(cfg.Engine.MaxHops)).Replay(v, item.Responses)
		if replayErr != nil {
			report.Kind = domain.Kind(replayErr)
			report.Message = replayErr.Error()
		} else {
			report.Replayed = out
			report.Match = out.TotalScore == item.TotalScore && out.FinalPriority == item.FinalPriority
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		switch {
		case replayErr != nil:
			return fmt.Errorf("history rejected: %w", replayErr)
		case !report.Match:
			return errors.New("recorded outcome differs from replay")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
