package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praetorian-inc/sigscan/pkg/enum"
	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/rule"
	"github.com/praetorian-inc/sigscan/pkg/sarif"
	"github.com/praetorian-inc/sigscan/pkg/scanner"
	"github.com/praetorian-inc/sigscan/pkg/store"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	scanRulesPath     string
	scanRuleset       string
	scanRulesInclude  string
	scanRulesExclude  string
	scanOutputPath    string
	scanOutputFormat  string
	scanAll           bool
	scanLimit         int
	scanStepBudget    int
	scanIncremental   bool
	scanBase          string
	scanPID           int32
	scanProcess       string
	scanModule        string
	scanMaxFileSize   int64
	scanIncludeHidden bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [target]",
	Short: "Scan files or a process for signatures",
	Long: `Scan a file, every file under a directory, or a module of a running process
with detection rules. Matches are stored in a SQLite database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "Path to custom rules file or directory")
	scanCmd.Flags().StringVar(&scanRuleset, "ruleset", "", "Only use rules from the named builtin ruleset")
	scanCmd.Flags().StringVar(&scanRulesInclude, "rules-include", "", "Include rules matching regex pattern (comma-separated)")
	scanCmd.Flags().StringVar(&scanRulesExclude, "rules-exclude", "", "Exclude rules matching regex pattern (comma-separated)")
	scanCmd.Flags().StringVar(&scanOutputPath, "output", "sigscan.db", "Output database path")
	scanCmd.Flags().StringVar(&scanOutputFormat, "format", "human", "Output format: json, sarif, human")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Report every match of each rule instead of the first")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Maximum matches per rule with --all (0 for no limit)")
	scanCmd.Flags().IntVar(&scanStepBudget, "step-budget", 0, "Maximum matcher steps per rule (0 for no limit)")
	scanCmd.Flags().BoolVar(&scanIncremental, "incremental", false, "Skip already-scanned images")
	scanCmd.Flags().StringVar(&scanBase, "base", "0", "Address files are loaded at")
	scanCmd.Flags().Int32Var(&scanPID, "pid", 0, "Scan a module of the process with this PID")
	scanCmd.Flags().StringVar(&scanProcess, "process", "", "Scan a module of the process with this name")
	scanCmd.Flags().StringVar(&scanModule, "module", "", "Module to scan with --pid or --process (default: main executable)")
	scanCmd.Flags().Int64Var(&scanMaxFileSize, "max-file-size", 512*1024*1024, "Maximum file size to scan (bytes)")
	scanCmd.Flags().BoolVar(&scanIncludeHidden, "include-hidden", false, "Include hidden files and directories")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	live := scanPID != 0 || scanProcess != ""
	switch {
	case live && len(args) > 0:
		return errors.New("a target path cannot be combined with --pid or --process")
	case !live && len(args) == 0:
		return errors.New("a target path, --pid or --process is required")
	}
	if !live {
		if _, err := os.Stat(args[0]); err != nil {
			return errors.Newf("target does not exist: %s", args[0])
		}
	}

	base, err := types.ParseAddress(scanBase)
	if err != nil {
		return errors.Wrap(err, "parsing --base")
	}

	rules, err := loadRules(scanRulesPath, scanRuleset, scanRulesInclude, scanRulesExclude)
	if err != nil {
		return errors.Wrap(err, "loading rules")
	}
	if len(rules) == 0 {
		return errors.New("no rules selected")
	}

	s, err := store.New(store.Config{Path: scanOutputPath})
	if err != nil {
		return errors.Wrap(err, "creating store")
	}
	defer s.Close()

	core, err := scanner.NewCore(rules,
		scanner.WithLogger(logger),
		scanner.WithStore(s),
		scanner.WithAllMatches(scanAll, scanLimit),
		scanner.WithStepBudget(scanStepBudget),
		scanner.WithIncremental(scanIncremental),
	)
	if err != nil {
		return errors.Wrap(err, "compiling rules")
	}

	var sum scanSummary
	if live {
		err = scanLive(ctx, core, &sum)
	} else {
		err = scanPath(ctx, core, args[0], base, &sum)
	}
	if err != nil {
		return errors.Wrap(err, "scanning")
	}

	// Keep stdout pure JSON for machine-readable formats.
	status := cmd.OutOrStdout()
	if scanOutputFormat == "json" || scanOutputFormat == "sarif" {
		status = cmd.ErrOrStderr()
	}
	sum.print(status)
	fmt.Fprintf(status, "Results stored in: %s\n", scanOutputPath)

	matches, err := s.GetAllMatches()
	if err != nil {
		return errors.Wrap(err, "retrieving matches")
	}

	switch scanOutputFormat {
	case "json":
		return outputMatchesJSON(cmd.OutOrStdout(), matches)
	case "sarif":
		return outputSARIF(cmd.OutOrStdout(), rules, matches)
	case "human":
		return outputMatchesHuman(cmd.OutOrStdout(), matches)
	default:
		return errors.Newf("unknown output format: %s", scanOutputFormat)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

type scanSummary struct {
	images         int
	matches        int
	budgetExceeded int
	skippedImages  int
}

func (s *scanSummary) add(res *matcher.MatchResult) {
	s.images++
	s.matches += len(res.Matches)
	s.budgetExceeded += res.Summary.BudgetExceededRules
}

func (s *scanSummary) print(w io.Writer) {
	fmt.Fprintf(w, "Scan complete: %d images, %d matches", s.images, s.matches)
	if s.skippedImages > 0 {
		fmt.Fprintf(w, " (%d images skipped)", s.skippedImages)
	}
	if s.budgetExceeded > 0 {
		fmt.Fprintf(w, " (%d rules exceeded the step budget)", s.budgetExceeded)
	}
	fmt.Fprintln(w)
}

func scanLive(ctx context.Context, core *scanner.Core, sum *scanSummary) error {
	pid := scanPID
	if scanProcess != "" {
		var err error
		pid, err = memory.FindProcess(ctx, scanProcess)
		if err != nil {
			return err
		}
	}

	res, err := core.ScanProcess(ctx, pid, scanModule)
	if err != nil {
		return errors.Wrapf(err, "pid %d", pid)
	}
	sum.add(res)
	return nil
}

func scanPath(ctx context.Context, core *scanner.Core, root string, base types.Address, sum *scanSummary) error {
	enumerator := enum.NewFilesystemEnumerator(enum.Config{
		Root:          root,
		IncludeHidden: scanIncludeHidden,
		MaxFileSize:   scanMaxFileSize,
	})

	return enumerator.Enumerate(ctx, func(path string, info fs.FileInfo) error {
		res, err := core.ScanFile(ctx, path, base)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			// Unreadable files do not stop a directory scan.
			logger.Warn("skipping file", zap.String("target", path), zap.Error(err))
			sum.skippedImages++
			return nil
		}
		sum.add(res)
		return nil
	})
}

func loadRules(path, rulesetID, include, exclude string) ([]*types.Rule, error) {
	loader := rule.NewLoader()

	var rules []*types.Rule
	var err error

	if path != "" {
		rules, err = loader.LoadRulesFile(path)
	} else {
		rules, err = loader.LoadBuiltinRules()
	}
	if err != nil {
		return nil, err
	}

	if rulesetID != "" {
		rulesets, err := loader.LoadBuiltinRulesets()
		if err != nil {
			return nil, errors.Wrap(err, "loading rulesets")
		}
		rs, err := rule.FindRuleset(rulesets, rulesetID)
		if err != nil {
			return nil, err
		}
		rules, err = rule.SelectRuleset(rules, rs)
		if err != nil {
			return nil, err
		}
	}

	if include != "" || exclude != "" {
		config := rule.FilterConfig{
			Include: rule.ParsePatterns(include),
			Exclude: rule.ParsePatterns(exclude),
		}
		rules, err = rule.Filter(rules, config)
		if err != nil {
			return nil, errors.Wrap(err, "filtering rules")
		}
	}

	return rules, nil
}

func outputMatchesJSON(w io.Writer, matches []*types.Match) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(matches)
}

func outputMatchesHuman(w io.Writer, matches []*types.Match) error {
	if len(matches) == 0 {
		fmt.Fprintf(w, "\nNo matches.\n")
		return nil
	}

	fmt.Fprintf(w, "\nMatches:\n")
	for i, m := range matches {
		where := m.ImageID.Hex()
		if m.Target != nil {
			where = m.Target.Path()
		}
		fmt.Fprintf(w, "%d. %s at %s in %s\n", i+1, m.RuleID, m.Anchor(), where)
		if len(m.Addresses) > 1 {
			fmt.Fprintf(w, "   captures: %s\n", types.FormatAddresses(m.Addresses[1:]))
		}
	}
	return nil
}

// outputSARIF writes matches in SARIF 2.1.0 format.
func outputSARIF(w io.Writer, rules []*types.Rule, matches []*types.Match) error {
	report := sarif.NewReport()
	for _, r := range rules {
		report.AddRule(r)
	}
	for _, m := range matches {
		report.AddResult(m)
	}

	data, err := report.ToJSON()
	if err != nil {
		return errors.Wrap(err, "serializing SARIF")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "writing SARIF output")
	}
	return nil
}
