package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/caretree/internal/presentation/tui"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/offline"
	"github.com/aretw0/caretree/pkg/session"
)

// Commands understood at the prompt besides answers.
const (
	cmdBack = ":back"
)

var quitCommands = map[string]bool{"q": true, "quit": true, "exit": true}

// SessionOptions configures an interactive session.
type SessionOptions struct {
	In     io.Reader
	Out    io.Writer
	Render tui.Renderer
	// Color styles the final priority. Off when Out is not a terminal.
	Color bool
	Quiet bool
	// MaxInput bounds one answer; zero means DefaultMaxInputSize.
	MaxInput int
}

// SessionOutcome reports how an interactive session ended.
type SessionOutcome struct {
	Result    session.Result
	Abandoned bool
}

// RunSession runs one triage session on the replica, reading answers line by line.
// Resolved sessions are already queued when RunSession returns; quitting abandons
// the session into the queue. Closed input returns io.EOF with the session left
// pending on the replica.
func RunSession(ctx context.Context, replica *offline.Replica, protocolID string, opts SessionOptions) (SessionOutcome, error) {
	if opts.Render == nil {
		opts.Render = tui.PlainRenderer
	}

	step, err := replica.Start(ctx, protocolID)
	if err != nil {
		return SessionOutcome{}, err
	}
	id := step.Session.ID
	if !opts.Quiet {
		printSystemMessage(opts.Out, "Session %s on %s.", id, step.Session.VersionID)
	}

	scanner := bufio.NewScanner(opts.In)
	for !step.Complete {
		if err := ctx.Err(); err != nil {
			return outcome(replica, id, false), err
		}
		if err := present(opts, step); err != nil {
			return outcome(replica, id, false), err
		}

		fmt.Fprint(opts.Out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return outcome(replica, id, false), err
			}
			fmt.Fprintln(opts.Out)
			return outcome(replica, id, false), io.EOF
		}
		input, err := SanitizeInput(strings.TrimSpace(scanner.Text()), opts.MaxInput)
		if err != nil {
			printSystemMessage(opts.Out, "%v", err)
			continue
		}

		var next session.Step
		switch {
		case input == "":
			continue
		case quitCommands[strings.ToLower(input)]:
			out := outcome(replica, id, true)
			if err := replica.Abandon(ctx, id); err != nil {
				return out, err
			}
			printSystemMessage(opts.Out, "Session %s abandoned with %d answers.", id, out.Result.Answered)
			return out, nil
		case input == cmdBack:
			next, err = replica.Back(ctx, id)
		default:
			next, err = replica.Respond(ctx, id, step.Node.ID, domain.TextValue(input))
		}

		if err != nil {
			switch domain.Kind(err) {
			case domain.KindValidation, domain.KindInvalidState:
				printSystemMessage(opts.Out, "%v", err)
				continue
			}
			return outcome(replica, id, false), err
		}
		step = next
	}

	out := outcome(replica, id, false)
	printResult(opts, step, out.Result)
	if err := replica.Finish(id); err != nil {
		return out, err
	}
	return out, nil
}

func present(opts SessionOptions, step session.Step) error {
	rendered, err := opts.Render(tui.NodeMarkdown(*step.Node, step.Hints))
	if err != nil {
		return fmt.Errorf("failed to render node %s: %w", step.Node.ID, err)
	}
	fmt.Fprint(opts.Out, rendered)
	if !strings.HasSuffix(rendered, "\n") {
		fmt.Fprintln(opts.Out)
	}
	return nil
}

func printResult(opts SessionOptions, step session.Step, result session.Result) {
	if step.TerminalNode != nil && step.TerminalNode.Content != "" {
		if rendered, err := opts.Render(step.TerminalNode.Content); err == nil {
			fmt.Fprint(opts.Out, rendered)
			if !strings.HasSuffix(rendered, "\n") {
				fmt.Fprintln(opts.Out)
			}
		}
	}
	priority := string(result.FinalPriority)
	if opts.Color {
		priority = tui.Priority(result.FinalPriority)
	}
	printSystemMessage(opts.Out, "Priority %s, score %d.", priority, result.TotalScore)
	if result.EndedUnexpectedly {
		printSystemMessage(opts.Out, "No branch matched; priority was derived from the score.")
	}
}

func outcome(replica *offline.Replica, id string, abandoned bool) SessionOutcome {
	result, _ := replica.Result(id)
	return SessionOutcome{Result: result, Abandoned: abandoned}
}
