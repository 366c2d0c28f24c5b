// Package secrets redacts credentials from regulatory documents before they are
// sent to an inference provider, using the gitleaks rule set.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// AllowList holds regular expressions for values that are never redacted.
	AllowList []string `koanf:"allow_list"`
}

// DefaultConfig returns an enabled scrubber configuration with no allow list.
func DefaultConfig() Config {
	return Config{Enabled: true, AllowList: []string{}}
}

// Finding describes one redacted secret. The secret itself is never retained.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the outcome of scrubbing one piece of content.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings"`
	ByRule   map[string]int `json:"by_rule"`
}

// HasFindings returns true if any secrets were redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber detects and redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	enabled bool

	// the gitleaks detector keeps per-scan state
	mu       sync.Mutex
	detector *detect.Detector
}

// New creates a scrubber. A disabled scrubber returns content unchanged.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	if len(cfg.AllowList) > 0 {
		allow := &gitleaksConfig.Allowlist{Description: "rulesmith allow list"}
		for _, pattern := range cfg.AllowList {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("allow_list pattern %q: %w", pattern, err)
			}
			allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		allow.StopWords = append(allow.StopWords, cfg.AllowList...)
		detector.Config.Allowlists = append(detector.Config.Allowlists, allow)
	}

	s.detector = detector
	return s, nil
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool {
	return s.enabled
}

// Scrub replaces every detected secret with a [REDACTED:<rule-id>] marker.
func (s *Scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, Findings: []Finding{}, ByRule: map[string]int{}}
	if !s.enabled || content == "" {
		return result
	}

	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(found) == 0 {
		return result
	}

	// longest secrets first so a secret containing another is replaced whole
	sort.SliceStable(found, func(i, j int) bool {
		return len(found[i].Secret) > len(found[j].Secret)
	})

	scrubbed := content
	for _, f := range found {
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
		result.ByRule[f.RuleID]++
		if f.Secret != "" {
			scrubbed = strings.ReplaceAll(scrubbed, f.Secret, "[REDACTED:"+f.RuleID+"]")
		}
	}

	sort.SliceStable(result.Findings, func(i, j int) bool {
		return result.Findings[i].Line < result.Findings[j].Line
	})
	result.Scrubbed = scrubbed
	return result
}
