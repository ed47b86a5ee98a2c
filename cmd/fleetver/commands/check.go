package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fleetver/fleetver/internal/engine"
	"github.com/fleetver/fleetver/internal/version"
)

const defaultTag = "latest"

type checkOptions struct {
	root *rootOptions

	forceRefresh   bool
	jsonOutput     bool
	onlyDeviations bool
}

func newCheckCommand(root *rootOptions) *cobra.Command {
	opts := &checkOptions{root: root}

	cmd := &cobra.Command{
		Use:   "check [tool[:tag]...]",
		Short: "Resolve and compare tool versions",
		Long: "Resolve the local, registry and upstream versions of the given tools " +
			"and report whether they agree. Without arguments the tool list of the " +
			"configuration file is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.forceRefresh, "force-refresh", false, "bypass cached lookups")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit machine readable JSON")
	flags.BoolVar(&opts.onlyDeviations, "only-deviations", false, "show only tools whose versions disagree")

	return cmd
}

func (o *checkOptions) run(cmd *cobra.Command, args []string) error {
	tools, err := o.toolRequests(args)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		return fmt.Errorf("no tools given and the configuration file lists none")
	}

	e, closeEngine, err := o.root.newEngine()
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	results := e.ResolveAll(cmd.Context(), tools, o.forceRefresh)

	if o.onlyDeviations {
		results = filterDeviations(results)
	}

	if o.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), results)
	}
	return writeTable(cmd.OutOrStdout(), results)
}

// toolRequests parses tool arguments of the form "name" or "name:tag",
// falling back to the configured tool list when no arguments are given.
func (o *checkOptions) toolRequests(args []string) ([]engine.ToolRequest, error) {
	if len(args) == 0 {
		tools := make([]engine.ToolRequest, 0, len(o.root.cfg.Tools))
		for _, tool := range o.root.cfg.Tools {
			tag := tool.Tag
			if tag == "" {
				tag = defaultTag
			}
			tools = append(tools, engine.ToolRequest{Name: tool.Name, Tag: tag})
		}
		return tools, nil
	}

	tools := make([]engine.ToolRequest, 0, len(args))
	for _, arg := range args {
		name, tag := splitReference(arg)
		if name == "" {
			return nil, fmt.Errorf("invalid tool reference %q", arg)
		}
		tools = append(tools, engine.ToolRequest{Name: name, Tag: tag})
	}
	return tools, nil
}

// splitReference cuts an optional tag off a tool reference. The tag
// separator is the last colon after the last slash, so registries with a
// port keep working.
func splitReference(arg string) (string, string) {
	slash := strings.LastIndex(arg, "/")
	colon := strings.LastIndex(arg, ":")
	if colon > slash {
		return arg[:colon], arg[colon+1:]
	}
	return arg, defaultTag
}

func filterDeviations(results []engine.Result) []engine.Result {
	filtered := make([]engine.Result, 0, len(results))
	for _, r := range results {
		if r.LocalRemote == version.VerdictDeviation || r.RemoteUpstream == version.VerdictDeviation {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func writeJSON(w io.Writer, results []engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("cannot encode results: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, results []engine.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "TOOL\tTAG\tLOCAL\tREMOTE\tUPSTREAM\tLOCAL/REMOTE\tREMOTE/UPSTREAM\tISSUES")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Tool,
			r.Tag,
			recordCell(r.Local),
			recordCell(r.Remote),
			upstreamCell(r.Upstreams),
			r.LocalRemote,
			r.RemoteUpstream,
			issuesCell(r),
		)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot render table: %w", err)
	}
	return nil
}

func recordCell(record *version.Record) string {
	if record == nil || record.Raw == "" {
		return "-"
	}
	return record.Raw
}

func upstreamCell(upstreams []engine.UpstreamResult) string {
	versions := make([]string, 0, len(upstreams))
	for _, u := range upstreams {
		if u.Record != nil && u.Record.Raw != "" {
			versions = append(versions, u.Record.Raw)
		}
	}
	if len(versions) == 0 {
		return "-"
	}
	return strings.Join(versions, ", ")
}

func issuesCell(r engine.Result) string {
	issues := make([]string, 0, 2+len(r.Upstreams))
	if r.LocalIssue != "" {
		issues = append(issues, "local: "+r.LocalIssue)
	}
	if r.RemoteIssue != "" {
		issues = append(issues, "remote: "+r.RemoteIssue)
	}
	for _, u := range r.Upstreams {
		if u.Issue != "" {
			issues = append(issues, u.Origin.Provider+": "+u.Issue)
		}
	}
	if len(issues) == 0 {
		return "-"
	}
	return strings.Join(issues, "; ")
}
