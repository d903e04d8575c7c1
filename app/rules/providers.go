package rules

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// Static provider, rules are "pattern,target[,ping]" strings from the CLI.
type Static struct {
	Rules []string
}

// Events fires once, a static set never changes after startup.
func (s *Static) Events(_ context.Context) <-chan struct{} {
	res := make(chan struct{}, 1)
	res <- struct{}{}
	close(res)
	return res
}

// List parses the configured rule strings.
func (s *Static) List() (res []Rule, err error) {
	for _, raw := range s.Rules {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		elems := strings.Split(raw, ",")
		if len(elems) < 2 {
			return nil, fmt.Errorf("invalid rule %q, need pattern,target", raw)
		}
		ping := ""
		if len(elems) >= 3 {
			ping = strings.TrimSpace(elems[2])
		}
		r, err := CompileRule(elems[0], elems[1], ping)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// File provider reads a yaml rule list and reports modification events.
type File struct {
	FileName      string
	CheckInterval time.Duration
	Delay         time.Duration
}

// fileRule is one yaml entry.
type fileRule struct {
	Route string `yaml:"route"`
	Dest  string `yaml:"dest"`
	Ping  string `yaml:"ping"`
}

// Events returns a channel updating on file change only.
func (f *File) Events(ctx context.Context) <-chan struct{} {
	res := make(chan struct{})

	// no need to queue multiple events
	trySubmit := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	go func() {
		tk := time.NewTicker(f.CheckInterval)
		lastModif := time.Time{}
		for {
			select {
			case <-tk.C:
				fi, err := os.Stat(f.FileName)
				if err != nil {
					continue
				}
				if fi.ModTime() != lastModif {
					// don't react on modification right away
					if fi.ModTime().Sub(lastModif) < f.Delay {
						continue
					}
					log.Printf("[DEBUG] file %s changed, %s -> %s", f.FileName,
						lastModif.Format(time.RFC3339Nano), fi.ModTime().Format(time.RFC3339Nano))
					lastModif = fi.ModTime()
					trySubmit(res)
				}
			case <-ctx.Done():
				close(res)
				tk.Stop()
				return
			}
		}
	}()
	return res
}

// List reads and parses all yaml rules.
func (f *File) List() (res []Rule, err error) {
	fh, err := os.Open(f.FileName)
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", f.FileName, err)
	}
	defer fh.Close()

	var entries []fileRule
	if err = yaml.NewDecoder(fh).Decode(&entries); err != nil {
		return nil, fmt.Errorf("can't parse %s: %w", f.FileName, err)
	}

	for _, e := range entries {
		r, err := CompileRule(e.Route, e.Dest, e.Ping)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	log.Printf("[DEBUG] file provider loaded %d rules from %s", len(res), f.FileName)
	return res, nil
}
