// Package prefilter rules out signatures whose required literals are absent
// from a region, so the matcher only probes rules that can possibly match.
package prefilter

import (
	"sort"

	"github.com/cloudflare/ahocorasick"

	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// Entry pairs a rule with the byte strings that must occur for it to match.
type Entry struct {
	Rule     *types.Rule
	Keywords [][]byte
}

// Prefilter uses Aho-Corasick for efficient keyword matching.
type Prefilter struct {
	matcher  *ahocorasick.Matcher
	keywords []string // keyword at each dictionary index
	rules    []*types.Rule
	needs    [][]int // dictionary indexes each rule requires, parallel to rules
}

// Keywords returns the prefilter keywords of a compiled signature: its
// required literals, longest first, without duplicates.
func Keywords(seq signature.Sequence) [][]byte {
	lits := signature.RequiredLiterals(seq)
	sort.SliceStable(lits, func(i, j int) bool { return len(lits[i]) > len(lits[j]) })

	seen := make(map[string]bool, len(lits))
	out := lits[:0]
	for _, l := range lits {
		if seen[string(l)] {
			continue
		}
		seen[string(l)] = true
		out = append(out, l)
	}
	return out
}

// New creates a prefilter from rules and their keywords.
func New(entries []Entry) *Prefilter {
	pf := &Prefilter{
		rules: make([]*types.Rule, 0, len(entries)),
		needs: make([][]int, 0, len(entries)),
	}

	index := make(map[string]int)
	var dict [][]byte
	for _, e := range entries {
		var need []int
		for _, kw := range e.Keywords {
			if len(kw) == 0 {
				continue
			}
			idx, ok := index[string(kw)]
			if !ok {
				idx = len(dict)
				index[string(kw)] = idx
				dict = append(dict, kw)
				pf.keywords = append(pf.keywords, string(kw))
			}
			need = append(need, idx)
		}
		pf.rules = append(pf.rules, e.Rule)
		pf.needs = append(pf.needs, need)
	}

	if len(dict) > 0 {
		pf.matcher = ahocorasick.NewMatcher(dict)
	}
	return pf
}

// KeywordCount returns the number of distinct keywords in the dictionary.
func (pf *Prefilter) KeywordCount() int {
	return len(pf.keywords)
}

// Filter returns, in their original order, the rules whose keywords all occur
// in content, plus every rule without keywords.
func (pf *Prefilter) Filter(content []byte) []*types.Rule {
	hit := make(map[int]bool)
	if pf.matcher != nil {
		for _, idx := range pf.matcher.Match(content) {
			hit[idx] = true
		}
	}

	result := make([]*types.Rule, 0, len(pf.rules))
	for i, rule := range pf.rules {
		ok := true
		for _, idx := range pf.needs[i] {
			if !hit[idx] {
				ok = false
				break
			}
		}
		if ok {
			result = append(result, rule)
		}
	}
	return result
}
