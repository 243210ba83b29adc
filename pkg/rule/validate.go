package rule

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// ExampleBase is the address rule examples are mapped at when checked.
const ExampleBase = types.Address(0x10000)

// Compile parses a rule's pattern as a top-level signature.
func Compile(r *types.Rule) (signature.Sequence, error) {
	seq, err := signature.Parse(r.Pattern, r.BaseSlot, true)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %s", r.ID)
	}
	return seq, nil
}

// ValidateRule checks rule consistency and required fields.
// Returns error if rule is invalid.
func ValidateRule(r *types.Rule) error {
	if r == nil {
		return errors.New("rule is nil")
	}

	// Check required fields
	if r.ID == "" {
		return errors.New("rule ID is required")
	}
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return errors.New("rule pattern is required")
	}
	if r.BaseSlot < 0 {
		return errors.Newf("rule %s has negative base_slot %d", r.ID, r.BaseSlot)
	}

	if _, err := Compile(r); err != nil {
		return errors.Wrap(err, "invalid pattern")
	}

	// Validate StructuralID matches computed value
	expectedID := r.ComputeStructuralID()
	if r.StructuralID != "" && r.StructuralID != expectedID {
		return errors.Newf("rule %s has inconsistent StructuralID: got %s, expected %s",
			r.ID, r.StructuralID, expectedID)
	}

	return nil
}

// DecodeExample parses a hex byte string such as "48 83 EC 28".
func DecodeExample(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid example %q", s)
	}
	return b, nil
}

// CheckExamples verifies that every example matches at its first byte and
// that no negative example matches anywhere.
func CheckExamples(ctx context.Context, r *types.Rule) error {
	seq, err := Compile(r)
	if err != nil {
		return err
	}

	for i, ex := range r.Examples {
		data, err := DecodeExample(ex)
		if err != nil {
			return errors.Wrapf(err, "rule %s example %d", r.ID, i)
		}
		m := matcher.New(memory.NewSliceRegion(ExampleBase, data))
		if _, err := m.Verify(ctx, seq, ExampleBase); err != nil {
			if errors.Is(err, matcher.ErrNotFound) {
				return errors.Newf("rule %s example %d does not match: %s", r.ID, i, ex)
			}
			return errors.Wrapf(err, "rule %s example %d", r.ID, i)
		}
	}

	for i, ex := range r.NegativeExamples {
		data, err := DecodeExample(ex)
		if err != nil {
			return errors.Wrapf(err, "rule %s negative example %d", r.ID, i)
		}
		m := matcher.New(memory.NewSliceRegion(ExampleBase, data))
		res, err := m.Scan(ctx, seq)
		if err == nil {
			return errors.Newf("rule %s negative example %d matches at %s: %s", r.ID, i, res[0], ex)
		}
		if !errors.Is(err, matcher.ErrNotFound) {
			return errors.Wrapf(err, "rule %s negative example %d", r.ID, i)
		}
	}

	return nil
}

// ValidateRuleset checks ruleset consistency and required fields.
// knownRuleIDs is a map of valid rule IDs for reference checking.
// Returns error if ruleset is invalid.
func ValidateRuleset(rs *types.Ruleset, knownRuleIDs map[string]bool) error {
	if rs == nil {
		return errors.New("ruleset is nil")
	}

	// Check required fields
	if rs.ID == "" {
		return errors.New("ruleset ID is required")
	}
	if rs.Name == "" {
		return errors.New("ruleset name is required")
	}
	if len(rs.RuleIDs) == 0 {
		return errors.Newf("ruleset %s must reference at least one rule", rs.ID)
	}

	// Validate all referenced rule IDs exist
	if knownRuleIDs != nil {
		for _, ruleID := range rs.RuleIDs {
			if !knownRuleIDs[ruleID] {
				return errors.Newf("ruleset %s references unknown rule ID: %s", rs.ID, ruleID)
			}
		}
	}

	// Check for duplicate rule IDs
	seen := make(map[string]bool)
	for _, ruleID := range rs.RuleIDs {
		if seen[ruleID] {
			return errors.Newf("ruleset %s contains duplicate rule ID: %s", rs.ID, ruleID)
		}
		seen[ruleID] = true
	}

	return nil
}
