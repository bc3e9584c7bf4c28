package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openpacer/openpacer/pkg/graph"
)

func newValidateCommand() *cobra.Command {
	var dotPath string

	cmd := &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a transition graph document",
		Long: `Parse a planned transition graph and report structural problems:
schema violations, duplicate action IDs, dangling edge references and
ordering cycles.`,
		Example: `  # Check a graph before spooling it
  pacer validate failover.json

  # Render the graph structure as Graphviz DOT
  pacer validate failover.json --dot -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read graph file: %w", err)
			}

			g, err := graph.ParseDocument(doc)
			if err != nil {
				return fmt.Errorf("graph rejected: %w", err)
			}

			if dotPath != "" {
				var out *os.File
				if dotPath == "-" {
					out = os.Stdout
				} else {
					out, err = os.Create(dotPath)
					if err != nil {
						return fmt.Errorf("failed to create DOT file: %w", err)
					}
					defer out.Close()
				}
				if err := g.WriteDOT(out, graph.DOTOptions{AllActions: true}); err != nil {
					return err
				}
			}

			fmt.Printf("%s: ok (%d actions, %d edges, source %s)\n",
				args[0], g.Len(), len(g.Edges()), g.Source)
			return nil
		},
	}

	cmd.Flags().StringVar(&dotPath, "dot", "", "write the graph as Graphviz DOT to this file (- for stdout)")

	return cmd
}
