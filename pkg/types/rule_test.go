package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule(t *testing.T) {
	rule := Rule{
		ID:               "x64.prologue.sub_rsp",
		Name:             "x64 prologue: sub rsp, imm8",
		Pattern:          `48 83 EC ??`,
		BaseSlot:         1,
		Description:      "Stack frame allocation",
		Examples:         []string{"48 83 EC 28"},
		NegativeExamples: []string{"48 83 C4 28"},
		References:       []string{"https://www.felixcloutier.com/x86/sub"},
		Categories:       []string{"x64", "prologue"},
	}

	assert.Equal(t, "x64.prologue.sub_rsp", rule.ID)
	assert.Equal(t, "x64 prologue: sub rsp, imm8", rule.Name)
	assert.Equal(t, `48 83 EC ??`, rule.Pattern)
	assert.Equal(t, 1, rule.BaseSlot)
	require.Len(t, rule.Examples, 1)
	require.Len(t, rule.NegativeExamples, 1)
	require.Len(t, rule.References, 1)
	require.Len(t, rule.Categories, 2)
}

func TestRule_ComputeStructuralID(t *testing.T) {
	rule := Rule{
		ID:      "x64.call",
		Name:    "Call",
		Pattern: `E8 $ {48 8B}`,
	}

	structuralID := rule.ComputeStructuralID()

	// Should be SHA-1 hex (40 chars)
	assert.Len(t, structuralID, 40)

	// Same pattern should produce same ID
	rule2 := Rule{
		ID:      "different.id",
		Name:    "Different Name",
		Pattern: `E8 $ {48 8B}`,
	}
	assert.Equal(t, structuralID, rule2.ComputeStructuralID())

	// Different pattern should produce different ID
	rule3 := Rule{
		ID:      "x64.call",
		Name:    "Call",
		Pattern: `E8 $ {48 8D}`,
	}
	assert.NotEqual(t, structuralID, rule3.ComputeStructuralID())

	// Different base slot changes capture numbering, so it changes identity
	rule4 := Rule{Pattern: `E8 $ {48 8B}`, BaseSlot: 1}
	assert.NotEqual(t, structuralID, rule4.ComputeStructuralID())
}

func TestRule_ComputeStructuralID_IgnoresFormatting(t *testing.T) {
	compact := Rule{Pattern: `4883EC??E8$`}
	formatted := Rule{Pattern: "48 83 ec ?? # sub rsp\n e8 $ # call\n"}

	assert.Equal(t, compact.ComputeStructuralID(), formatted.ComputeStructuralID())
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{"whitespace", "48 83\tEC\n", "4883EC"},
		{"comment", "48 # push\n83", "4883"},
		{"lowercase hex", "ab cd", "ABCD"},
		{"string literal kept verbatim", `"a b#c" ff`, `"a b#c"FF`},
		{"operators kept", `[1-3] @ \ /`, `[1-3]@\/`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePattern(tt.pattern))
		})
	}
}

func TestRule_MinimalFields(t *testing.T) {
	rule := Rule{
		ID:      "test.1",
		Name:    "Test Rule",
		Pattern: `90`,
	}

	assert.Equal(t, 0, rule.BaseSlot)
	assert.Empty(t, rule.Description)
	assert.Nil(t, rule.Examples)
	assert.Nil(t, rule.NegativeExamples)
	assert.Nil(t, rule.References)
	assert.Nil(t, rule.Categories)
}

func TestRuleset(t *testing.T) {
	ruleset := Ruleset{
		ID:          "x64-prologues",
		Name:        "x64 Prologues",
		Description: "Function entry signatures",
		RuleIDs:     []string{"x64.prologue.sub_rsp", "x64.prologue.push_rbp"},
	}

	assert.Equal(t, "x64-prologues", ruleset.ID)
	require.Len(t, ruleset.RuleIDs, 2)
	assert.Equal(t, "x64.prologue.sub_rsp", ruleset.RuleIDs[0])
}
