package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/sigscan/pkg/rule"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	rulesPath    string
	outputFormat string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules",
	Long:  "Commands for listing and checking detection rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available rules",
	Long:  "Display all available detection rules with their IDs and names",
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate rules against their examples",
	Long: `Parse every rule's signature and run it over the rule's positive and
negative examples. Builtin rulesets are checked against the builtin rules.`,
	RunE: runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Path to custom rules file or directory")
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(rulesPath, "", "", "")
	if err != nil {
		return errors.Wrap(err, "loading rules")
	}

	switch outputFormat {
	case "json":
		return outputRulesJSON(cmd, rules)
	case "table":
		return outputRulesTable(cmd, rules)
	default:
		return errors.Newf("unknown output format: %s", outputFormat)
	}
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	rules, err := loadRules(rulesPath, "", "", "")
	if err != nil {
		return errors.Wrap(err, "loading rules")
	}

	failed := 0
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.ID] = true
		err := rule.ValidateRule(r)
		if err == nil {
			err = rule.CheckExamples(ctx, r)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.ID, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", r.ID)
	}

	// Custom rule files carry no rulesets.
	if rulesPath == "" {
		rulesets, err := rule.NewLoader().LoadBuiltinRulesets()
		if err != nil {
			return errors.Wrap(err, "loading rulesets")
		}
		for _, rs := range rulesets {
			if err := rule.ValidateRuleset(rs, known); err != nil {
				failed++
				fmt.Fprintf(out, "FAIL ruleset %s: %v\n", rs.ID, err)
				continue
			}
			fmt.Fprintf(out, "ok   ruleset %s\n", rs.ID)
		}
	}

	if failed > 0 {
		return errors.Newf("%d checks failed", failed)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func outputRulesJSON(cmd *cobra.Command, rules []*types.Rule) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(rules)
}

func outputRulesTable(cmd *cobra.Command, rules []*types.Rule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tName\tCategories\n")
	fmt.Fprintf(w, "--\t----\t----------\n")

	for _, r := range rules {
		categories := ""
		if len(r.Categories) > 0 {
			categories = r.Categories[0]
			if len(r.Categories) > 1 {
				categories += fmt.Sprintf(" (+%d)", len(r.Categories)-1)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, categories)
	}

	return nil
}
