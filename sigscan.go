// Package sigscan locates code and data in binary images with byte
// signatures that can follow references.
//
// A signature is written in a small text DSL: hex bytes, wildcards, skips,
// alternation and reference-following operators. Matching a signature yields
// a capture vector: slot 0 is where the match began and later slots hold the
// addresses recorded by '\' operators.
//
// # Basic Usage
//
// Find one signature in a buffer loaded at its preferred address:
//
//	sig, err := sigscan.Compile(`E8 $ \`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	addrs, err := sigscan.Find(ctx, sigscan.NewSliceRegion(0x400000, image), sig)
//	if errors.Is(err, sigscan.ErrNotFound) {
//	    ...
//	}
//	fmt.Printf("call at %s targets %s\n", addrs[0], addrs[1])
//
// # Rule Sets
//
// Scan a file with every builtin rule:
//
//	scanner, err := sigscan.NewScanner()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := scanner.ScanFile(ctx, "/usr/bin/app", 0x400000)
//	for _, match := range result.Matches {
//	    fmt.Printf("%s at %s\n", match.RuleName, match.Anchor())
//	}
package sigscan

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/scanner"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/store"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// Re-export commonly used types for convenience.
// Users can import just "github.com/praetorian-inc/sigscan" without subpackages.
type (
	// Address is a location in a scanned address space.
	Address = types.Address

	// Match represents a single signature hit.
	Match = types.Match

	// Rule is a named signature with metadata.
	Rule = types.Rule

	// Sequence is a compiled signature.
	Sequence = signature.Sequence

	// Region is a readable address range.
	Region = memory.Region

	// Result holds the matches and per-rule statistics of a scan.
	Result = matcher.MatchResult

	// MalformedSignatureError describes why signature text failed to parse.
	MalformedSignatureError = signature.MalformedSignatureError
)

// Re-exported sentinel errors.
var (
	ErrNotFound           = matcher.ErrNotFound
	ErrBudgetExceeded     = matcher.ErrBudgetExceeded
	ErrMalformedSignature = signature.ErrMalformedSignature
)

// Compile parses signature text as a top-level signature whose explicit
// saves start at slot 1.
func Compile(text string) (Sequence, error) {
	return signature.Parse(text, 1, true)
}

// NewSliceRegion exposes data as a region starting at base.
func NewSliceRegion(base Address, data []byte) Region {
	return memory.NewSliceRegion(base, data)
}

// Find returns the capture vector of the first match of seq in region.
func Find(ctx context.Context, region Region, seq Sequence) ([]Address, error) {
	return matcher.New(region).Scan(ctx, seq)
}

// Verify reports the capture vector of seq matched exactly at addr.
func Verify(ctx context.Context, region Region, seq Sequence, addr Address) ([]Address, error) {
	return matcher.New(region).Verify(ctx, seq, addr)
}

// Scanner runs a rule set over images.
type Scanner struct {
	core   *scanner.Core
	config *scannerConfig
}

// scannerConfig holds scanner configuration.
type scannerConfig struct {
	rules      []*types.Rule
	store      store.Store
	logger     *zap.Logger
	allMatches bool
	limit      int
	stepBudget int
}

// Option configures a Scanner.
type Option func(*scannerConfig)

// WithRules uses custom rules instead of builtin rules.
func WithRules(rules []*Rule) Option {
	return func(c *scannerConfig) {
		c.rules = rules
	}
}

// WithStore records images, targets and matches in s.
// The scanner never closes the store.
func WithStore(s store.Store) Option {
	return func(c *scannerConfig) {
		c.store = s
	}
}

// WithLogger sets the logger used for per-rule diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *scannerConfig) {
		c.logger = l
	}
}

// WithAllMatches reports every matching position of each rule, up to limit
// per rule (0 for no limit).
func WithAllMatches(limit int) Option {
	return func(c *scannerConfig) {
		c.allMatches = true
		c.limit = limit
	}
}

// WithStepBudget bounds backtracking per rule. Rules that exceed it are
// skipped and reported in the result statistics.
func WithStepBudget(n int) Option {
	return func(c *scannerConfig) {
		c.stepBudget = n
	}
}

// NewScanner creates a new Scanner with the given options.
//
// By default, the scanner:
//   - Uses all builtin rules
//   - Reports the first match of each rule
//   - Has no step budget
func NewScanner(opts ...Option) (*Scanner, error) {
	config := &scannerConfig{}
	for _, opt := range opts {
		opt(config)
	}

	core, err := scanner.NewCore(config.rules,
		scanner.WithLogger(config.logger),
		scanner.WithStore(config.store),
		scanner.WithAllMatches(config.allMatches, config.limit),
		scanner.WithStepBudget(config.stepBudget),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating scanner")
	}

	return &Scanner{core: core, config: config}, nil
}

// Rules returns the rules the scanner runs.
func (s *Scanner) Rules() []*Rule {
	return s.core.Rules()
}

// ScanRegion scans a region on behalf of target. A nil target describes the
// region as an anonymous buffer.
func (s *Scanner) ScanRegion(ctx context.Context, region Region, target types.Target) (*Result, error) {
	return s.core.ScanRegion(ctx, region, target)
}

// ScanBytes scans data as if it were loaded at base.
func (s *Scanner) ScanBytes(ctx context.Context, name string, base Address, data []byte) (*Result, error) {
	return s.core.ScanRegion(ctx, memory.NewSliceRegion(base, data), types.MemoryTarget{Name: name, Base: base})
}

// ScanFile maps a file at base and scans it.
func (s *Scanner) ScanFile(ctx context.Context, path string, base Address) (*Result, error) {
	return s.core.ScanFile(ctx, path, base)
}

// ScanProcess scans a module of a live process. An empty module selects the
// main executable.
func (s *Scanner) ScanProcess(ctx context.Context, pid int32, module string) (*Result, error) {
	return s.core.ScanProcess(ctx, pid, module)
}

// Find runs a single signature over region with the scanner's step budget.
func (s *Scanner) Find(ctx context.Context, region Region, seq Sequence) ([]Address, error) {
	return matcher.New(region, matcher.WithStepBudget(s.config.stepBudget)).Scan(ctx, seq)
}
