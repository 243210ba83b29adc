package matcher

import (
	"time"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// RuleStatus represents how a rule's scan ended.
type RuleStatus int

const (
	// RuleCompleted indicates the rule was searched to completion
	RuleCompleted RuleStatus = iota
	// RuleBudgetExceeded indicates the rule hit its step budget
	RuleBudgetExceeded
	// RuleError indicates the rule encountered an error
	RuleError
)

// String returns the string representation of RuleStatus
func (rs RuleStatus) String() string {
	switch rs {
	case RuleCompleted:
		return "completed"
	case RuleBudgetExceeded:
		return "budget_exceeded"
	case RuleError:
		return "error"
	default:
		return "unknown"
	}
}

// RuleStat contains statistics about a single rule execution
type RuleStat struct {
	RuleID   string        // Rule identifier
	Status   RuleStatus    // Execution status
	Duration time.Duration // Time taken to execute
	Matches  int           // Number of matches found
	Error    error         // Error if Status is RuleError
}

// ResultSummary provides aggregate statistics for a scan
type ResultSummary struct {
	TotalRules          int // Total number of rules attempted
	SkippedRules        int // Rules ruled out by the prefilter
	CompletedRules      int // Rules that completed
	BudgetExceededRules int // Rules aborted by the step budget
	ErrorRules          int // Rules that encountered errors
}

// MatchResult contains matches and execution statistics
type MatchResult struct {
	Matches   []*types.Match      // Successful matches
	RuleStats map[string]RuleStat // Statistics for each rule (keyed by RuleID)
	Summary   ResultSummary       // Aggregate statistics
}

// Record adds a rule's outcome to the result.
func (r *MatchResult) Record(stat RuleStat) {
	if r.RuleStats == nil {
		r.RuleStats = make(map[string]RuleStat)
	}
	r.RuleStats[stat.RuleID] = stat
	r.Summary.TotalRules++
	switch stat.Status {
	case RuleCompleted:
		r.Summary.CompletedRules++
	case RuleBudgetExceeded:
		r.Summary.BudgetExceededRules++
	case RuleError:
		r.Summary.ErrorRules++
	}
}
