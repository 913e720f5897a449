package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/pipeline"
)

// Status output formats
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <conf>",
		Short: "Show the progress of the runs",
		Long: `Display, for every run found in the state files, whether each step is
done, denied or locked. Runs of the priority list are flagged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			statuses, err := pipeline.Collect(cfg, pipeline.NewLockers(cfg, logging.NewNopLogger()))
			if err != nil {
				return fmt.Errorf("failed to read the state files: %w", err)
			}
			return printStatus(cmd.OutOrStdout(), format, statuses)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, yaml or json")
	return cmd
}

func printStatus(w io.Writer, format string, statuses []pipeline.RunStatus) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(statuses); err != nil {
			return err
		}
		return enc.Close()
	case formatTable:
		return printStatusTable(w, statuses)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printStatusTable(w io.Writer, statuses []pipeline.RunStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	headers := append([]string{"RUN"}, pipeline.StatusSteps...)
	headers = append(headers, "PRIORITY")
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(headers, "\t")))

	for _, rs := range statuses {
		row := []string{rs.RunID}
		for _, name := range pipeline.StatusSteps {
			row = append(row, stateLabel(rs.Steps[name]))
		}
		priority := ""
		if rs.Priority {
			priority = "yes"
		}
		row = append(row, priority)
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func stateLabel(st pipeline.StepState) string {
	switch {
	case st.Locked:
		return "locked"
	case st.Denied:
		return "denied"
	case st.Done:
		return "done"
	default:
		return "-"
	}
}
