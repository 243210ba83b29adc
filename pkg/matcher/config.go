package matcher

// Config controls matcher behavior.
type Config struct {
	// StepBudget bounds the number of choice-point resumptions in one scan
	// (0 = unlimited). Exceeding it aborts the scan with ErrBudgetExceeded.
	StepBudget int

	// DisableLiteralSkip probes every address even when the signature opens
	// with a literal that could be searched for directly.
	DisableLiteralSkip bool
}

// DefaultConfig returns the default matcher configuration
func DefaultConfig() Config {
	return Config{
		StepBudget: 0,
	}
}
