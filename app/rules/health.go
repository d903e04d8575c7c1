package rules

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
)

// CheckHealth pings every rule that declares a ping url, up to 8 in parallel,
// and flips the dead flag on failures. Returns per-target ping errors keyed
// by ping url.
func (s *Service) CheckHealth(ctx context.Context) map[string]error {
	const concurrent = 8
	sema := make(chan struct{}, concurrent)

	type pingResult struct {
		pattern string
		pingURL string
		err     error
	}

	snapshot := s.Rules()
	resCh := make(chan pingResult, len(snapshot))

	var wg sync.WaitGroup
	for _, r := range snapshot {
		if r.PingURL == "" {
			continue
		}
		wg.Add(1)
		go func(pattern, pingURL string) {
			sema <- struct{}{}
			defer func() {
				<-sema
				wg.Done()
			}()
			// transient hiccups should not flap the rule, retry before
			// declaring it dead
			err := repeater.NewDefault(3, time.Second).Do(ctx, func() error {
				return ping(ctx, pingURL)
			})
			resCh <- pingResult{pattern: pattern, pingURL: pingURL, err: err}
		}(r.SrcMatch.String(), r.PingURL)
	}
	go func() {
		wg.Wait()
		close(resCh)
	}()

	dead := map[string]bool{}
	res := map[string]error{}
	for pr := range resCh {
		res[pr.pingURL] = pr.err
		dead[pr.pattern] = pr.err != nil
		if pr.err != nil {
			log.Printf("[WARN] health check failed for %s: %v", pr.pingURL, pr.err)
		}
	}

	s.lock.Lock()
	for i := range s.rules {
		if d, ok := dead[s.rules[i].SrcMatch.String()]; ok {
			s.rules[i].dead = d
		}
	}
	s.lock.Unlock()
	return res
}

// ScheduleHealthCheck runs periodic health checks until the context dies.
func (s *Service) ScheduleHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				s.CheckHealth(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func ping(ctx context.Context, pingURL string) error {
	client := http.Client{Timeout: 500 * time.Millisecond}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("invalid ping url %s: %w", pingURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s failed: %w", pingURL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s returned %s", pingURL, resp.Status)
	}
	return nil
}
