package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpacer/openpacer/pkg/datetime"
	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
	"github.com/openpacer/openpacer/pkg/sim"
	"github.com/openpacer/openpacer/pkg/telemetry"
)

func newSimulateCommand() *cobra.Command {
	var (
		failSpecs []string
		loseIDs   []int
		latency   time.Duration
		deadline  time.Duration
		dotPath   string
		showAll   bool
		quiet     bool
		nowSpec   string
	)

	cmd := &cobra.Command{
		Use:   "simulate <graph-file>",
		Short: "Run a what-if simulation of a transition graph",
		Long: `Execute a planned transition graph against a synthetic cluster and
report the outcome without touching any real resources.

Failures and losses can be injected per action to answer questions like
"what happens if the stop on node1 fails" before the graph runs for
real.`,
		Example: `  # Simulate a failover graph
  pacer simulate failover.json

  # Inject a failure: action 3 reports exit code 1
  pacer simulate failover.json --fail 3=1

  # Simulate an executor that never reports back for action 2
  pacer simulate failover.json --lose 2

  # Write the executed graph as Graphviz DOT
  pacer simulate failover.json --dot failover.dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read graph file: %w", err)
			}

			failures, err := parseFailSpecs(failSpecs)
			if err != nil {
				return err
			}
			lost := make(map[int]bool, len(loseIDs))
			for _, id := range loseIDs {
				lost[id] = true
			}

			clock := datetime.Clock(datetime.SystemClock{})
			if nowSpec != "" {
				base, err := datetime.ParseTime(nowSpec)
				if err != nil {
					return err
				}
				clock = datetime.NewPretendClock(base)
			}

			sum, eng, err := simulate(doc, failures, lost, latency, deadline, quiet, clock)
			if err != nil {
				return err
			}
			defer eng.Stop()

			if dotPath != "" {
				if err := writeDOT(eng, dotPath, showAll); err != nil {
					return err
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(sum); err != nil {
					return err
				}
			} else {
				printSummary(os.Stdout, sum)
			}

			if sum.Aborted {
				return fmt.Errorf("transition aborted: %s", sum.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&failSpecs, "fail", nil, "inject an action failure (id=exit-code)")
	cmd.Flags().IntSliceVar(&loseIDs, "lose", nil, "action IDs whose completion report never arrives")
	cmd.Flags().DurationVar(&latency, "latency", time.Millisecond, "simulated per-action round trip")
	cmd.Flags().DurationVar(&deadline, "timeout", 30*time.Second, "bound on the whole simulation when the document carries no timers")
	cmd.Flags().StringVar(&dotPath, "dot", "", "write the executed graph as Graphviz DOT to this file (- for stdout)")
	cmd.Flags().BoolVar(&showAll, "show-all", false, "include optional actions in DOT output")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress engine logging")
	cmd.Flags().StringVar(&nowSpec, "now", "", "pretend the run starts at this timestamp")

	return cmd
}

func simulate(doc []byte, failures map[int]int, lost map[int]bool, latency, deadline time.Duration, quiet bool, clock datetime.Clock) (graph.Summary, *engine.Engine, error) {
	doc = applyDeadline(doc, lost, deadline)

	logger := telemetry.Nop()
	if !quiet {
		var err error
		logger, err = telemetry.NewLogger(telemetry.LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		})
		if err != nil {
			return graph.Summary{}, nil, err
		}
	}

	executor := sim.NewExecutor(sim.ExecutorOptions{
		Latency:  latency,
		Failures: failures,
		Lost:     lost,
	})

	done := make(chan graph.Summary, 1)
	eng, err := engine.New(engine.Options{
		Executor: executor,
		Notifier: engine.NotifierFunc(func(s graph.Summary) { done <- s }),
		Logger:   logger,
		Clock:    clock,
	})
	if err != nil {
		return graph.Summary{}, nil, err
	}
	executor.SetTarget(eng)

	if err := eng.Start(); err != nil {
		return graph.Summary{}, nil, err
	}
	if _, err := eng.LoadGraph(doc); err != nil {
		eng.Stop()
		return graph.Summary{}, nil, err
	}

	sum := <-done
	return sum, eng, nil
}

// applyDeadline bounds a simulation whose document carries no timers of its
// own: without it a lost completion report would park the run forever. The
// transition timeout defaults to the deadline, and every lost action without
// a per-action timeout gets one so the in-flight drain can finish.
func applyDeadline(doc []byte, lost map[int]bool, deadline time.Duration) []byte {
	if deadline <= 0 {
		return doc
	}
	var d graph.Document
	if err := json.Unmarshal(doc, &d); err != nil {
		// Let the load attempt report the malformed document.
		return doc
	}

	iso := datetime.FormatDuration(deadline)
	changed := false
	if d.Timeout == "" {
		d.Timeout = iso
		changed = true
	}
	for i := range d.Actions {
		if lost[d.Actions[i].ID] && d.Actions[i].Timeout == "" {
			d.Actions[i].Timeout = iso
			changed = true
		}
	}
	if !changed {
		return doc
	}

	out, err := json.Marshal(d)
	if err != nil {
		return doc
	}
	return out
}

func parseFailSpecs(specs []string) (map[int]int, error) {
	failures := make(map[int]int, len(specs))
	for _, spec := range specs {
		id, code, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --fail %q: expected id=exit-code", spec)
		}
		actionID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid --fail action ID %q", id)
		}
		exitCode, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("invalid --fail exit code %q", code)
		}
		failures[actionID] = exitCode
	}
	return failures, nil
}

func writeDOT(eng *engine.Engine, path string, showAll bool) error {
	if path == "-" {
		return eng.DumpDOT(os.Stdout, showAll)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create DOT file: %w", err)
	}
	defer f.Close()
	return eng.DumpDOT(f, showAll)
}

func printSummary(w *os.File, sum graph.Summary) {
	outcome := "complete"
	if sum.Aborted {
		outcome = fmt.Sprintf("aborted (%s)", sum.Reason)
	}
	fmt.Fprintf(w, "Transition %s from %s: %s\n", sum.UUID, sum.Source, outcome)
	fmt.Fprintf(w, "  confirmed=%d failed=%d skipped=%d completion=%s\n",
		sum.Confirmed, sum.Failed, sum.Skipped, sum.Action)
	for _, a := range sum.Actions {
		marker := " "
		switch a.Status {
		case graph.StatusFailed:
			marker = "!"
		case graph.StatusConfirmed:
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-30s %s", marker, a.Name, a.Status)
		if a.Status == graph.StatusFailed {
			fmt.Fprintf(w, " rc=%d", a.ExitCode)
		}
		fmt.Fprintln(w)
	}
}
