package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Rule maps an anchored path pattern to a target url template. Plain prefix
// patterns get extended to capture the remainder, regex patterns substitute
// their groups into the template as $0..$n.
type Rule struct {
	SrcMatch *regexp.Regexp
	Dst      string
	PingURL  string

	dead bool
}

// Resolution is the outcome of a table lookup: the rewritten target and the
// path remainder past the matched part.
type Resolution struct {
	Target string
	Rest   string
}

// Provider supplies rule lists and signals when the list may have changed.
type Provider interface {
	Events(ctx context.Context) <-chan struct{}
	List() ([]Rule, error)
}

// Service merges rules from all providers and answers lookups. Rule list
// updates swap atomically under the lock, lookups never observe a partial
// merge.
type Service struct {
	providers []Provider
	interval  time.Duration

	lock  sync.RWMutex
	rules []Rule
}

// NewService makes a rules service for the given providers.
func NewService(providers []Provider, interval time.Duration) *Service {
	return &Service{providers: providers, interval: interval}
}

// Run loads the initial rule set and reloads it on provider events until the
// context dies.
func (s *Service) Run(ctx context.Context) error {
	if err := s.reload(); err != nil {
		return fmt.Errorf("initial rules load failed: %w", err)
	}

	events := s.mergeEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := s.reload(); err != nil {
				log.Printf("[WARN] rules reload failed, keeping previous set: %v", err)
			}
		}
	}
}

// Resolve finds the first matching rule for the path and substitutes captured
// groups into its target template. No match resolves to the empty Resolution
// and false.
func (s *Service) Resolve(path string) (Resolution, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for i := range s.rules {
		r := &s.rules[i]
		if r.dead {
			continue
		}
		loc := r.SrcMatch.FindStringSubmatchIndex(path)
		if loc == nil || loc[0] != 0 {
			continue
		}
		target := string(r.SrcMatch.ExpandString(nil, r.Dst, path, loc))
		return Resolution{Target: target, Rest: path[loc[1]:]}, true
	}
	return Resolution{}, false
}

// Rules returns a snapshot of the active rule set.
func (s *Service) Rules() []Rule {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := make([]Rule, len(s.rules))
	copy(res, s.rules)
	return res
}

func (s *Service) reload() error {
	var merged []Rule
	for _, p := range s.providers {
		list, err := p.List()
		if err != nil {
			return err
		}
		merged = append(merged, list...)
	}

	// longer patterns first so the most specific rule wins
	sort.SliceStable(merged, func(i, j int) bool {
		pi, pj := merged[i].SrcMatch.String(), merged[j].SrcMatch.String()
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return pi < pj
	})

	s.lock.Lock()
	s.rules = merged
	s.lock.Unlock()
	log.Printf("[INFO] rules updated, %d entries", len(merged))
	return nil
}

// mergeEvents fans provider event channels into one.
func (s *Service) mergeEvents(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	var wg sync.WaitGroup
	for _, p := range s.providers {
		wg.Add(1)
		go func(ch <-chan struct{}) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- struct{}{}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(p.Events(ctx))
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// CompileRule builds a rule from a pattern and a target template. A plain
// prefix pattern, no groups in the pattern and no substitutions in the
// target, is extended to swallow and re-attach the remainder.
func CompileRule(pattern, target, pingURL string) (Rule, error) {
	pattern = strings.TrimSpace(pattern)
	target = strings.TrimSpace(target)
	if pattern == "" || target == "" {
		return Rule{}, fmt.Errorf("rule needs both pattern and target")
	}

	if !strings.Contains(pattern, "(") && !strings.Contains(target, "$") {
		// a prefix matches itself or a deeper path, never a sibling sharing
		// the prefix string
		pattern = strings.TrimSuffix(pattern, "/") + "(?:/(.*))?$"
		target = strings.TrimSuffix(target, "/") + "/$1"
	}

	rx, err := regexp.Compile("^" + strings.TrimPrefix(pattern, "^"))
	if err != nil {
		return Rule{}, fmt.Errorf("can't compile pattern %q: %w", pattern, err)
	}
	return Rule{SrcMatch: rx, Dst: target, PingURL: pingURL}, nil
}
