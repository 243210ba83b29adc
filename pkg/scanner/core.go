// Package scanner runs a compiled rule set over memory regions and records
// the resulting matches.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/prefilter"
	"github.com/praetorian-inc/sigscan/pkg/rule"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	// cachedBuiltinRules holds builtin rules loaded once per process
	cachedBuiltinRules []*types.Rule
	cachedRulesErr     error
	cacheOnce          sync.Once
)

// loadBuiltinRulesCached loads builtin rules once and caches them
func loadBuiltinRulesCached() ([]*types.Rule, error) {
	cacheOnce.Do(func() {
		loader := rule.NewLoader()
		cachedBuiltinRules, cachedRulesErr = loader.LoadBuiltinRules()
	})
	return cachedBuiltinRules, cachedRulesErr
}

// GetBuiltinRules returns the built-in rules (cached)
func GetBuiltinRules() ([]*types.Rule, error) {
	return loadBuiltinRulesCached()
}

type compiledRule struct {
	rule *types.Rule
	seq  signature.Sequence
}

// Core holds a compiled rule set. Scans are independent; a Core may be used
// from several goroutines if its store allows it.
type Core struct {
	rules []compiledRule
	byID  map[string]int
	pf    *prefilter.Prefilter
	cfg   config
	mu    sync.Mutex // serializes store writes
}

// NewCore compiles every rule once. A nil or empty rule slice loads the
// builtin rules.
func NewCore(rules []*types.Rule, opts ...Option) (*Core, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(rules) == 0 {
		var err error
		rules, err = loadBuiltinRulesCached()
		if err != nil {
			return nil, errors.Wrap(err, "loading builtin rules")
		}
	}

	c := &Core{
		rules: make([]compiledRule, 0, len(rules)),
		byID:  make(map[string]int, len(rules)),
		cfg:   cfg,
	}
	entries := make([]prefilter.Entry, 0, len(rules))
	for _, r := range rules {
		if _, dup := c.byID[r.ID]; dup {
			return nil, errors.Newf("duplicate rule ID: %s", r.ID)
		}
		seq, err := rule.Compile(r)
		if err != nil {
			return nil, err
		}
		if r.StructuralID == "" {
			r.StructuralID = r.ComputeStructuralID()
		}
		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, compiledRule{rule: r, seq: seq})
		entries = append(entries, prefilter.Entry{Rule: r, Keywords: prefilter.Keywords(seq)})
	}
	c.pf = prefilter.New(entries)

	cfg.logger.Debug("compiled rules",
		zap.Int("rules", len(c.rules)),
		zap.Int("keywords", c.pf.KeywordCount()))
	return c, nil
}

// Rules returns the compiled rules in load order.
func (c *Core) Rules() []*types.Rule {
	out := make([]*types.Rule, len(c.rules))
	for i, cr := range c.rules {
		out[i] = cr.rule
	}
	return out
}

// Sequence returns the compiled signature of a rule.
func (c *Core) Sequence(ruleID string) (signature.Sequence, bool) {
	idx, ok := c.byID[ruleID]
	if !ok {
		return nil, false
	}
	return c.rules[idx].seq, true
}

// ScanRegion runs every candidate rule over region. Rules that find nothing
// or exceed the step budget are recorded in the result's statistics; only
// cancellation and store failures abort the scan.
func (c *Core) ScanRegion(ctx context.Context, region memory.Region, target types.Target) (*matcher.MatchResult, error) {
	if target == nil {
		target = types.MemoryTarget{Base: region.Start()}
	}
	log := c.cfg.logger.With(zap.String("target", target.Path()))
	result := &matcher.MatchResult{Matches: []*types.Match{}}

	imageID := imageIDFor(region, target)
	if c.cfg.store != nil {
		if c.cfg.incremental {
			exists, err := c.cfg.store.ImageExists(imageID)
			if err != nil {
				return nil, errors.Wrap(err, "checking image")
			}
			if exists {
				log.Info("skipping previously scanned image", zap.String("image", imageID.Hex()))
				result.Summary.SkippedRules = len(c.rules)
				return result, nil
			}
		}
		if err := c.recordImage(imageID, region, target); err != nil {
			return nil, err
		}
	}

	candidates := c.candidates(region)
	result.Summary.SkippedRules = len(c.rules) - len(candidates)

	m := matcher.New(region, matcher.WithStepBudget(c.cfg.stepBudget))
	dedup := matcher.NewDeduplicator()
	dedup.SetMode(c.cfg.dedupe)

	for _, cr := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start := time.Now()
		vectors, err := c.run(ctx, m, cr.seq)
		stat := matcher.RuleStat{RuleID: cr.rule.ID, Duration: time.Since(start)}
		rlog := log.With(zap.String("rule", cr.rule.ID))

		switch {
		case err == nil:
			stat.Status = matcher.RuleCompleted
		case errors.Is(err, matcher.ErrNotFound):
			stat.Status = matcher.RuleCompleted
			rlog.Debug("signature not found")
		case errors.Is(err, matcher.ErrBudgetExceeded):
			stat.Status = matcher.RuleBudgetExceeded
			rlog.Warn("step budget exceeded, skipping rule", zap.Int("budget", c.cfg.stepBudget))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return result, err
		default:
			stat.Status = matcher.RuleError
			stat.Error = err
			rlog.Error("rule failed", zap.Error(err))
		}

		for _, addrs := range vectors {
			match := newMatch(cr.rule, imageID, target, addrs)
			if dedup.IsDuplicate(match) {
				continue
			}
			dedup.Add(match)
			result.Matches = append(result.Matches, match)
			stat.Matches++
			rlog.Debug("match", zap.String("address", match.Anchor().String()))
		}
		result.Record(stat)

		if stat.Matches > 0 && c.cfg.store != nil {
			if err := c.recordMatches(cr.rule, result.Matches[len(result.Matches)-stat.Matches:]); err != nil {
				return result, err
			}
		}
	}

	log.Debug("scan complete",
		zap.Int("matches", len(result.Matches)),
		zap.Int("rules", result.Summary.TotalRules),
		zap.Int("skipped", result.Summary.SkippedRules))
	return result, nil
}

// ScanFile maps path at base and scans it.
func (c *Core) ScanFile(ctx context.Context, path string, base types.Address) (*matcher.MatchResult, error) {
	region, err := memory.MapFile(path, base)
	if err != nil {
		return nil, err
	}
	defer region.Close()

	return c.ScanRegion(ctx, region, types.FileTarget{FilePath: path, Base: base})
}

// ScanProcess scans a module mapped in a live process. An empty module name
// selects the main executable.
func (c *Core) ScanProcess(ctx context.Context, pid int32, module string) (*matcher.MatchResult, error) {
	mod, err := memory.ModuleRange(pid, module)
	if err != nil {
		return nil, err
	}
	region, err := memory.OpenProcess(pid, mod.Base, mod.Size)
	if err != nil {
		return nil, err
	}

	name, err := memory.ProcessName(ctx, pid)
	if err != nil {
		c.cfg.logger.Debug("process name unavailable", zap.Int32("pid", pid), zap.Error(err))
	}
	target := types.ProcessTarget{
		PID:     pid,
		Process: name,
		Module:  mod.Path,
		Base:    mod.Base,
		Size:    mod.Size,
	}
	return c.ScanRegion(ctx, region, target)
}

// ScanBatch scans caller-supplied buffers one after another.
func (c *Core) ScanBatch(ctx context.Context, images []Image) (*BatchScanResult, error) {
	batch := &BatchScanResult{Results: make([]ScanResult, 0, len(images))}
	for _, img := range images {
		target := types.MemoryTarget{Name: img.Name, Base: img.Base}
		region := memory.NewSliceRegion(img.Base, img.Data)
		res, err := c.ScanRegion(ctx, region, target)
		if err != nil {
			return batch, errors.Wrapf(err, "scanning %s", img.Name)
		}
		batch.Results = append(batch.Results, ScanResult{
			Name:    img.Name,
			ImageID: imageIDFor(region, target),
			Matches: res.Matches,
			Summary: res.Summary,
		})
		batch.Total += len(res.Matches)
	}
	return batch, nil
}

// candidates returns the rules worth running over region. Only directly
// addressable regions are prefiltered.
func (c *Core) candidates(region memory.Region) []compiledRule {
	br, ok := region.(memory.ByteRegion)
	if !ok {
		return c.rules
	}

	pass := c.pf.Filter(br.Bytes())
	out := make([]compiledRule, 0, len(pass))
	for _, r := range pass {
		out = append(out, c.rules[c.byID[r.ID]])
	}
	return out
}

func (c *Core) run(ctx context.Context, m *matcher.Matcher, seq signature.Sequence) ([][]types.Address, error) {
	if c.cfg.allMatches {
		all, err := m.ScanAll(ctx, seq, c.cfg.limit)
		if err == nil && len(all) == 0 {
			err = matcher.ErrNotFound
		}
		return all, err
	}
	res, err := m.Scan(ctx, seq)
	if err != nil {
		return nil, err
	}
	return [][]types.Address{res}, nil
}

func (c *Core) recordImage(id types.ImageID, region memory.Region, target types.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(region.End() - region.Start())
	if err := c.cfg.store.AddImage(id, size); err != nil {
		return errors.Wrap(err, "storing image")
	}
	if err := c.cfg.store.AddTarget(id, target); err != nil {
		return errors.Wrap(err, "storing target")
	}
	return nil
}

func (c *Core) recordMatches(r *types.Rule, matches []*types.Match) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cfg.store.AddRule(r); err != nil {
		return errors.Wrap(err, "storing rule")
	}
	for _, m := range matches {
		if err := c.cfg.store.AddMatch(m); err != nil {
			return errors.Wrap(err, "storing match")
		}
	}
	return nil
}

func newMatch(r *types.Rule, id types.ImageID, target types.Target, addrs []types.Address) *types.Match {
	m := &types.Match{
		ImageID:   id,
		RuleID:    r.ID,
		RuleName:  r.Name,
		Target:    target,
		Addresses: addrs,
	}
	m.Offset = m.Anchor().Offset(types.TargetBase(target))
	m.StructuralID = m.ComputeStructuralID(r.StructuralID)
	return m
}

// imageIDFor hashes a region's content when it is directly addressable and
// its identity otherwise.
func imageIDFor(region memory.Region, target types.Target) types.ImageID {
	if br, ok := region.(memory.ByteRegion); ok {
		return types.ComputeImageID(br.Bytes())
	}
	size := uint64(region.End() - region.Start())
	if pt, ok := target.(types.ProcessTarget); ok {
		return types.ComputeProcessImageID(pt.PID, pt.Module, region.Start(), size)
	}
	return types.ComputeProcessImageID(0, target.Path(), region.Start(), size)
}
