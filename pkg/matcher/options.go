package matcher

import "github.com/praetorian-inc/sigscan/pkg/types"

// Option configures a Matcher.
type Option func(*Config)

// WithStepBudget limits choice-point resumptions per scan.
func WithStepBudget(n int) Option {
	return func(c *Config) {
		c.StepBudget = n
	}
}

// WithoutLiteralSkip disables the leading-literal search shortcut.
func WithoutLiteralSkip() Option {
	return func(c *Config) {
		c.DisableLiteralSkip = true
	}
}

// ScanOption configures a single scan.
type ScanOption func(*scanConfig)

type scanConfig struct {
	startAt *types.Address
	from    *types.Address
	to      *types.Address
}

// StartAt makes a scan verify a single address instead of probing.
func StartAt(addr types.Address) ScanOption {
	return func(sc *scanConfig) {
		sc.startAt = &addr
	}
}

// WithProbeRange restricts probe positions to [from, to) within the region.
func WithProbeRange(from, to types.Address) ScanOption {
	return func(sc *scanConfig) {
		sc.from = &from
		sc.to = &to
	}
}
