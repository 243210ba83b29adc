package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/praetorian-inc/sigscan/pkg/store"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	reportDatastore string
	reportFormat    string
	reportColor     string
)

// styles holds color formatters for human report output
type styles struct {
	matchHeading *color.Color
	id           *color.Color
	ruleName     *color.Color
	heading      *color.Color
	address      *color.Color
	metadata     *color.Color
}

// newStyles creates color formatters for report output.
// enabled=false respects --color=never and NO_COLOR.
func newStyles(enabled bool) *styles {
	s := &styles{
		matchHeading: color.New(color.Bold, color.FgHiWhite),
		id:           color.New(color.FgHiGreen),
		ruleName:     color.New(color.Bold, color.FgHiBlue),
		heading:      color.New(color.Bold),
		address:      color.New(color.FgYellow),
		metadata:     color.New(color.FgHiBlue),
	}

	if !enabled {
		for _, c := range []*color.Color{s.matchHeading, s.id, s.ruleName, s.heading, s.address, s.metadata} {
			c.DisableColor()
		}
	}

	return s
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a report from scan results",
	Long:  "Read matches from a datastore and output a report",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDatastore, "datastore", "sigscan.db", "Path to datastore file")
	reportCmd.Flags().StringVar(&reportFormat, "format", "human", "Output format: human, json, sarif")
	reportCmd.Flags().StringVar(&reportColor, "color", "auto", "Color output: auto, always, never")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDatastore == ":memory:" {
		return errors.New("cannot report from in-memory store")
	}
	info, err := os.Stat(reportDatastore)
	if err != nil {
		return errors.Newf("datastore not found: %s", reportDatastore)
	}
	if info.IsDir() {
		return errors.Newf("datastore is a directory: %s", reportDatastore)
	}

	s, err := store.New(store.Config{Path: reportDatastore})
	if err != nil {
		return errors.Wrap(err, "opening datastore")
	}
	defer s.Close()

	matches, err := s.GetAllMatches()
	if err != nil {
		return errors.Wrap(err, "retrieving matches")
	}
	rules, err := s.GetRules()
	if err != nil {
		return errors.Wrap(err, "retrieving rules")
	}

	switch reportFormat {
	case "json":
		return outputReportJSON(cmd.OutOrStdout(), matches)
	case "sarif":
		return outputSARIF(cmd.OutOrStdout(), rules, matches)
	case "human":
		return outputReportHuman(cmd.OutOrStdout(), matches, rules, colorEnabled(reportColor))
	default:
		return errors.Newf("unknown output format: %s", reportFormat)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// reportEntry is a match together with where it was found.
type reportEntry struct {
	*types.Match
	TargetKind string `json:"TargetKind,omitempty"`
	TargetPath string `json:"TargetPath,omitempty"`
}

func outputReportJSON(w io.Writer, matches []*types.Match) error {
	entries := make([]reportEntry, len(matches))
	for i, m := range matches {
		entries[i] = reportEntry{Match: m}
		if m.Target != nil {
			entries[i].TargetKind = m.Target.Kind()
			entries[i].TargetPath = m.Target.Path()
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

// colorEnabled resolves the --color setting.
func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default: // "auto"
		return term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	}
}

func outputReportHuman(w io.Writer, matches []*types.Match, rules []*types.Rule, enabled bool) error {
	color.NoColor = !enabled
	s := newStyles(enabled)

	ruleNames := make(map[string]string, len(rules))
	for _, r := range rules {
		ruleNames[r.ID] = r.Name
	}

	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches.")
		return nil
	}

	total := len(matches)
	for i, m := range matches {
		fmt.Fprintf(w, "%s (%s %s)\n",
			s.matchHeading.Sprintf("Match %d/%d", i+1, total),
			s.heading.Sprint("id"),
			s.id.Sprint(m.StructuralID))

		name := m.RuleName
		if name == "" {
			name = ruleNames[m.RuleID]
		}
		fmt.Fprintf(w, "%s %s (%s)\n", s.heading.Sprint("Rule:"), s.ruleName.Sprint(name), m.RuleID)

		if m.Target != nil {
			fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Target:"), s.metadata.Sprint(m.Target.Path()))
		}
		fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Image:"), s.metadata.Sprint(m.ImageID.Hex()))

		fmt.Fprintf(w, "%s %s", s.heading.Sprint("Address:"), s.address.Sprint(m.Anchor()))
		if m.Offset >= 0 {
			fmt.Fprintf(w, " (offset 0x%X)", m.Offset)
		}
		fmt.Fprintln(w)

		for slot := 1; slot < len(m.Addresses); slot++ {
			fmt.Fprintf(w, "    %s %s\n",
				s.heading.Sprintf("Slot %d:", slot),
				s.address.Sprint(m.Addresses[slot]))
		}

		fmt.Fprintf(w, "\n")
	}

	return nil
}
