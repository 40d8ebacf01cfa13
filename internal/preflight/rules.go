package preflight

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"crosspost/internal/content"
)

//go:embed rules/defaults.yaml
var defaultRulesYAML []byte

// Default limits applied to any key a rules file leaves out.
const (
	defaultCaptionMaxLength = 10000
	defaultHashtagMaxCount  = 30
	defaultHashtagMaxLength = 100
	defaultMentionMaxCount  = 20
	defaultLinkMaxCount     = 10
	defaultMediaMaxCount    = 10
	defaultMediaMaxFileSize = 100 * 1024 * 1024
)

// RuleSet is a versioned set of platform rules.
type RuleSet struct {
	Version   string                   `yaml:"version"`
	UpdatedAt string                   `yaml:"updated_at,omitempty"`
	Platforms map[string]PlatformRules `yaml:"platforms"`
}

// PlatformRules holds every limit enforced for one platform.
type PlatformRules struct {
	Caption  CaptionRules `yaml:"caption"`
	Hashtags HashtagRules `yaml:"hashtags"`
	Mentions MentionRules `yaml:"mentions"`
	Links    LinkRules    `yaml:"links"`
	Media    MediaRules   `yaml:"media"`
	Content  ContentRules `yaml:"content"`
}

type CaptionRules struct {
	MaxLength int  `yaml:"max_length"`
	MinLength int  `yaml:"min_length"`
	Required  bool `yaml:"required"`
}

type HashtagRules struct {
	MaxCount      int `yaml:"max_count"`
	MaxLengthEach int `yaml:"max_length_each"`
}

type MentionRules struct {
	MaxCount int `yaml:"max_count"`
}

// LinkRules limits outbound links. An empty AllowedDomains accepts any host.
type LinkRules struct {
	Allowed        bool     `yaml:"allowed"`
	MaxCount       int      `yaml:"max_count"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
}

type MediaRules struct {
	Required         bool     `yaml:"required"`
	MaxCount         int      `yaml:"max_count"`
	MaxFileSize      int64    `yaml:"max_file_size"`
	SupportedFormats []string `yaml:"supported_formats"`
	Video            Geometry `yaml:"video"`
	Image            Geometry `yaml:"image"`
}

// Geometry bounds the duration, size, and shape of one media kind. Zero
// values are unbounded. Duration only applies to video.
type Geometry struct {
	MinDuration  float64  `yaml:"min_duration,omitempty"`
	MaxDuration  float64  `yaml:"max_duration,omitempty"`
	MinWidth     int      `yaml:"min_width,omitempty"`
	MinHeight    int      `yaml:"min_height,omitempty"`
	MaxWidth     int      `yaml:"max_width,omitempty"`
	MaxHeight    int      `yaml:"max_height,omitempty"`
	AspectRatios []string `yaml:"aspect_ratios,omitempty"`
}

type ContentRules struct {
	ForbiddenWords    []string          `yaml:"forbidden_words,omitempty"`
	ForbiddenPatterns []string          `yaml:"forbidden_patterns,omitempty"`
	RequiredWords     []string          `yaml:"required_words,omitempty"`
	BusinessPatterns  []BusinessPattern `yaml:"business_patterns,omitempty"`
}

// BusinessPattern is a regex rule whose severity the operator chooses.
type BusinessPattern struct {
	Pattern    string           `yaml:"pattern"`
	Severity   content.Severity `yaml:"severity,omitempty"`
	Message    string           `yaml:"message,omitempty"`
	Suggestion string           `yaml:"suggestion,omitempty"`
}

// DefaultPlatformRules returns the limits used for keys a rules file omits.
func DefaultPlatformRules() PlatformRules {
	return PlatformRules{
		Caption:  CaptionRules{MaxLength: defaultCaptionMaxLength, Required: true},
		Hashtags: HashtagRules{MaxCount: defaultHashtagMaxCount, MaxLengthEach: defaultHashtagMaxLength},
		Mentions: MentionRules{MaxCount: defaultMentionMaxCount},
		Links:    LinkRules{Allowed: true, MaxCount: defaultLinkMaxCount},
		Media:    MediaRules{MaxCount: defaultMediaMaxCount, MaxFileSize: defaultMediaMaxFileSize},
	}
}

// UnmarshalYAML decodes on top of DefaultPlatformRules so partial rule
// files inherit the defaults.
func (p *PlatformRules) UnmarshalYAML(node *yaml.Node) error {
	type plain PlatformRules
	rules := plain(DefaultPlatformRules())
	if err := node.Decode(&rules); err != nil {
		return err
	}
	*p = PlatformRules(rules)
	return nil
}

// ParseRules decodes and checks a YAML rule set.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	normalized := make(map[string]PlatformRules, len(rs.Platforms))
	for name, rules := range rs.Platforms {
		normalized[strings.ToLower(strings.TrimSpace(name))] = rules
	}
	rs.Platforms = normalized
	if err := rs.Check(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// DefaultRules returns the embedded rule set for instagram, vk, tiktok,
// youtube, and telegram.
func DefaultRules() (*RuleSet, error) {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded rules: %w", err)
	}
	return rs, nil
}

// Check rejects rule sets that could never be evaluated: no platforms, bad
// regular expressions, malformed aspect ratios, or unknown severities.
func (rs *RuleSet) Check() error {
	if rs == nil || len(rs.Platforms) == 0 {
		return errors.New("rules: no platforms defined")
	}
	var errs []error
	for _, name := range rs.PlatformNames() {
		rules := rs.Platforms[name]
		for _, pattern := range rules.Content.ForbiddenPatterns {
			if _, err := compilePattern(pattern); err != nil {
				errs = append(errs, fmt.Errorf("rules.%s.content.forbidden_patterns: %w", name, err))
			}
		}
		for i, bp := range rules.Content.BusinessPatterns {
			if _, err := compilePattern(bp.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("rules.%s.content.business_patterns[%d]: %w", name, i, err))
			}
			if _, err := parseSeverity(bp.Severity); err != nil {
				errs = append(errs, fmt.Errorf("rules.%s.content.business_patterns[%d]: %w", name, i, err))
			}
		}
		for _, ratio := range append(slices.Clone(rules.Media.Video.AspectRatios), rules.Media.Image.AspectRatios...) {
			if _, err := parseAspectRatio(ratio); err != nil {
				errs = append(errs, fmt.Errorf("rules.%s.media: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// PlatformNames lists configured platforms in sorted order.
func (rs *RuleSet) PlatformNames() []string {
	if rs == nil {
		return nil
	}
	names := make([]string, 0, len(rs.Platforms))
	for name := range rs.Platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// For returns the rules for platform.
func (rs *RuleSet) For(platform string) (PlatformRules, bool) {
	if rs == nil {
		return PlatformRules{}, false
	}
	rules, ok := rs.Platforms[strings.ToLower(strings.TrimSpace(platform))]
	return rules, ok
}

// parseSeverity accepts blocking/advisory and the error/warning spellings
// used by older rule files. Empty means blocking.
func parseSeverity(s content.Severity) (content.Severity, error) {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "", "blocking", "error":
		return content.SeverityBlocking, nil
	case "advisory", "warning", "info":
		return content.SeverityAdvisory, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// parseAspectRatio turns "9:16" into 0.5625.
func parseAspectRatio(ratio string) (float64, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(ratio), ":")
	if !ok {
		return 0, fmt.Errorf("aspect ratio %q must look like W:H", ratio)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return 0, fmt.Errorf("aspect ratio %q: %w", ratio, err)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return 0, fmt.Errorf("aspect ratio %q: %w", ratio, err)
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("aspect ratio %q must be positive", ratio)
	}
	return width / height, nil
}

var patternCache sync.Map

// compilePattern compiles a case-insensitive pattern, memoized across
// validations.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}
