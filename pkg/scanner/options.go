package scanner

import (
	"go.uber.org/zap"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/store"
)

// Option configures a Core.
type Option func(*config)

type config struct {
	logger      *zap.Logger
	store       store.Store
	allMatches  bool
	limit       int
	stepBudget  int
	dedupe      matcher.DedupeMode
	incremental bool
}

func defaultConfig() config {
	return config{
		logger:     zap.NewNop(),
		stepBudget: matcher.DefaultConfig().StepBudget,
		dedupe:     matcher.DedupeByLocation,
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithStore persists images, targets, rules and matches to s.
func WithStore(s store.Store) Option {
	return func(c *config) { c.store = s }
}

// WithAllMatches reports every matching position of each rule instead of
// the first one. limit caps matches per rule; 0 means no cap.
func WithAllMatches(enabled bool, limit int) Option {
	return func(c *config) {
		c.allMatches = enabled
		c.limit = limit
	}
}

// WithStepBudget bounds backtracking per rule scan. 0 disables the bound.
func WithStepBudget(n int) Option {
	return func(c *config) { c.stepBudget = n }
}

// WithDedupe selects how matches of one rule are collapsed.
func WithDedupe(mode matcher.DedupeMode) Option {
	return func(c *config) { c.dedupe = mode }
}

// WithIncremental skips images the store already holds.
func WithIncremental(enabled bool) Option {
	return func(c *config) { c.incremental = enabled }
}
