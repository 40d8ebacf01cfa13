package preflight

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"crosspost/internal/content"
)

// Violation and Severity are shared with the content model so posts can
// keep a snapshot of their last preflight result.
type (
	Violation = content.Violation
	Severity  = content.Severity
)

// Violation types.
const (
	CaptionTooLong       = "caption_too_long"
	CaptionTooShort      = "caption_too_short"
	CaptionEmpty         = "caption_empty"
	HashtagsTooMany      = "hashtags_too_many"
	HashtagTooLong       = "hashtag_too_long"
	MentionsTooMany      = "mentions_too_many"
	LinksNotAllowed      = "links_not_allowed"
	LinksTooMany         = "links_too_many"
	MediaMissing         = "media_missing"
	MediaTooMany         = "media_too_many"
	MediaTooLarge        = "media_too_large"
	MediaWrongFormat     = "media_wrong_format"
	MediaWrongDimensions = "media_wrong_dimensions"
	MediaTooLong         = "media_too_long"
	MediaTooShort        = "media_too_short"
	MediaWrongAspect     = "media_wrong_aspect"
	ForbiddenWords       = "forbidden_words"
	ForbiddenPattern     = "forbidden_pattern"
	RequiredWordsMissing = "required_words_missing"
	BusinessRule         = "business_rule"
	PlatformNotSupported = "platform_not_supported"
)

// aspectTolerance is the largest |actual-expected| ratio difference accepted.
const aspectTolerance = 0.01

var (
	videoFormats = []string{"mp4", "mov", "avi", "webm", "wmv", "mkv"}
	imageFormats = []string{"jpg", "jpeg", "png", "gif", "webp", "heic"}
)

// Result is the outcome of validating one post.
type Result struct {
	Platform     string      `json:"platform"`
	Valid        bool        `json:"valid"`
	Violations   []Violation `json:"violations"`
	RulesVersion string      `json:"rules_version,omitempty"`
}

// Blocking returns the violations that prevent publishing.
func (r Result) Blocking() []Violation {
	return r.filter(content.SeverityBlocking)
}

// Advisory returns the violations that only warn.
func (r Result) Advisory() []Violation {
	return r.filter(content.SeverityAdvisory)
}

func (r Result) filter(sev Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks post against the rules for its platform and returns every
// violation found. The post is valid when none of them is blocking.
func Validate(post content.Post, rules *RuleSet) Result {
	res := Result{Platform: post.Platform, Violations: []Violation{}}
	if rules != nil {
		res.RulesVersion = rules.Version
	}
	pr, ok := rules.For(post.Platform)
	if !ok {
		res.Violations = append(res.Violations, Violation{
			Type:       PlatformNotSupported,
			Severity:   content.SeverityBlocking,
			Message:    fmt.Sprintf("platform %q is not supported", post.Platform),
			Field:      "platform",
			Current:    post.Platform,
			Suggestion: "use one of: " + strings.Join(rules.PlatformNames(), ", "),
		})
		return res
	}

	c := checker{rules: pr}
	c.caption(post.Caption)
	c.hashtags(post.Hashtags)
	c.mentions(post.Mentions)
	c.links(post.Links)
	c.media(post.Media)
	c.content(post.Caption)

	res.Violations = append(res.Violations, c.out...)
	res.Valid = len(res.Blocking()) == 0
	return res
}

type checker struct {
	rules PlatformRules
	out   []Violation
}

func (c *checker) block(v Violation) {
	v.Severity = content.SeverityBlocking
	c.out = append(c.out, v)
}

func (c *checker) caption(text string) {
	r := c.rules.Caption
	length := utf8.RuneCountInString(text)
	empty := strings.TrimSpace(text) == ""
	if r.Required && empty {
		c.block(Violation{
			Type:       CaptionEmpty,
			Message:    "caption is required but empty",
			Field:      "caption",
			Suggestion: "add a caption to the post",
		})
	}
	if !empty && r.MinLength > 0 && length < r.MinLength {
		c.block(Violation{
			Type:       CaptionTooShort,
			Message:    fmt.Sprintf("caption is too short (%d chars, minimum %d)", length, r.MinLength),
			Field:      "caption",
			Current:    length,
			Limit:      r.MinLength,
			Suggestion: fmt.Sprintf("caption must be at least %d characters long", r.MinLength),
		})
	}
	if r.MaxLength > 0 && length > r.MaxLength {
		c.block(Violation{
			Type:       CaptionTooLong,
			Message:    fmt.Sprintf("caption is too long (%d chars, maximum %d)", length, r.MaxLength),
			Field:      "caption",
			Current:    length,
			Limit:      r.MaxLength,
			Suggestion: fmt.Sprintf("shorten caption to %d characters or less", r.MaxLength),
		})
	}
}

func (c *checker) hashtags(tags []string) {
	r := c.rules.Hashtags
	if len(tags) > r.MaxCount {
		c.block(Violation{
			Type:       HashtagsTooMany,
			Message:    fmt.Sprintf("too many hashtags (%d, maximum %d)", len(tags), r.MaxCount),
			Field:      "hashtags",
			Current:    len(tags),
			Limit:      r.MaxCount,
			Suggestion: fmt.Sprintf("reduce hashtags to %d or fewer", r.MaxCount),
		})
	}
	if r.MaxLengthEach <= 0 {
		return
	}
	for i, tag := range tags {
		length := utf8.RuneCountInString(strings.TrimPrefix(tag, "#"))
		if length > r.MaxLengthEach {
			c.block(Violation{
				Type:       HashtagTooLong,
				Message:    fmt.Sprintf("hashtag #%d is too long (%d chars, maximum %d)", i+1, length, r.MaxLengthEach),
				Field:      fmt.Sprintf("hashtags[%d]", i),
				Current:    length,
				Limit:      r.MaxLengthEach,
				Suggestion: fmt.Sprintf("shorten hashtag to %d characters or less", r.MaxLengthEach),
			})
		}
	}
}

func (c *checker) mentions(mentions []string) {
	r := c.rules.Mentions
	if len(mentions) > r.MaxCount {
		c.block(Violation{
			Type:       MentionsTooMany,
			Message:    fmt.Sprintf("too many mentions (%d, maximum %d)", len(mentions), r.MaxCount),
			Field:      "mentions",
			Current:    len(mentions),
			Limit:      r.MaxCount,
			Suggestion: fmt.Sprintf("reduce mentions to %d or fewer", r.MaxCount),
		})
	}
}

func (c *checker) links(links []string) {
	r := c.rules.Links
	if len(links) == 0 {
		return
	}
	if !r.Allowed {
		c.block(Violation{
			Type:       LinksNotAllowed,
			Message:    "links are not allowed on this platform",
			Field:      "links",
			Current:    len(links),
			Limit:      0,
			Suggestion: "remove all links from the post",
		})
		return
	}
	if len(links) > r.MaxCount {
		c.block(Violation{
			Type:       LinksTooMany,
			Message:    fmt.Sprintf("too many links (%d, maximum %d)", len(links), r.MaxCount),
			Field:      "links",
			Current:    len(links),
			Limit:      r.MaxCount,
			Suggestion: fmt.Sprintf("reduce links to %d or fewer", r.MaxCount),
		})
	}
	if len(r.AllowedDomains) == 0 {
		return
	}
	for i, link := range links {
		host := linkHost(link)
		if domainAllowed(host, r.AllowedDomains) {
			continue
		}
		c.block(Violation{
			Type:       LinksNotAllowed,
			Message:    fmt.Sprintf("link #%d points to a domain that is not allowed (%s)", i+1, host),
			Field:      fmt.Sprintf("links[%d]", i),
			Current:    host,
			Limit:      strings.Join(r.AllowedDomains, ", "),
			Suggestion: "link only to: " + strings.Join(r.AllowedDomains, ", "),
		})
	}
}

func linkHost(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func domainAllowed(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (c *checker) media(refs []content.MediaRef) {
	r := c.rules.Media
	if r.Required && len(refs) == 0 {
		c.block(Violation{
			Type:       MediaMissing,
			Message:    "media is required for this platform",
			Field:      "media",
			Current:    0,
			Limit:      1,
			Suggestion: "add at least one image or video",
		})
	}
	if r.MaxCount > 0 && len(refs) > r.MaxCount {
		c.block(Violation{
			Type:       MediaTooMany,
			Message:    fmt.Sprintf("too many media files (%d, maximum %d)", len(refs), r.MaxCount),
			Field:      "media",
			Current:    len(refs),
			Limit:      r.MaxCount,
			Suggestion: fmt.Sprintf("reduce media files to %d or fewer", r.MaxCount),
		})
	}
	for i, ref := range refs {
		c.mediaItem(i, ref)
	}
}

func (c *checker) mediaItem(i int, ref content.MediaRef) {
	r := c.rules.Media
	field := fmt.Sprintf("media[%d]", i)
	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ref.Format), "."))

	if r.MaxFileSize > 0 && ref.SizeBytes > r.MaxFileSize {
		c.block(Violation{
			Type:       MediaTooLarge,
			Message:    fmt.Sprintf("media #%d is too large (%d bytes, maximum %d)", i+1, ref.SizeBytes, r.MaxFileSize),
			Field:      field + ".size_bytes",
			Current:    ref.SizeBytes,
			Limit:      r.MaxFileSize,
			Suggestion: fmt.Sprintf("compress the file to under %dMB", r.MaxFileSize/(1024*1024)),
		})
	}
	if format != "" && len(r.SupportedFormats) > 0 && !containsFold(r.SupportedFormats, format) {
		c.block(Violation{
			Type:       MediaWrongFormat,
			Message:    fmt.Sprintf("media #%d format %q is not supported", i+1, format),
			Field:      field + ".format",
			Current:    format,
			Limit:      strings.Join(r.SupportedFormats, ", "),
			Suggestion: "convert to one of: " + strings.Join(r.SupportedFormats, ", "),
		})
	}

	switch {
	case ref.Kind == content.MediaVideo || (ref.Kind == "" && slices.Contains(videoFormats, format)):
		c.duration(i, field, ref, r.Video)
		c.geometry(i, field, "video", ref, r.Video)
	case ref.Kind == content.MediaImage || (ref.Kind == "" && slices.Contains(imageFormats, format)):
		c.geometry(i, field, "image", ref, r.Image)
	}
}

func (c *checker) duration(i int, field string, ref content.MediaRef, g Geometry) {
	if ref.DurationSeconds <= 0 {
		return
	}
	if g.MinDuration > 0 && ref.DurationSeconds < g.MinDuration {
		c.block(Violation{
			Type:       MediaTooShort,
			Message:    fmt.Sprintf("video #%d is too short (%gs, minimum %gs)", i+1, ref.DurationSeconds, g.MinDuration),
			Field:      field + ".duration_seconds",
			Current:    ref.DurationSeconds,
			Limit:      g.MinDuration,
			Suggestion: fmt.Sprintf("video must be at least %g seconds long", g.MinDuration),
		})
	}
	if g.MaxDuration > 0 && ref.DurationSeconds > g.MaxDuration {
		c.block(Violation{
			Type:       MediaTooLong,
			Message:    fmt.Sprintf("video #%d is too long (%gs, maximum %gs)", i+1, ref.DurationSeconds, g.MaxDuration),
			Field:      field + ".duration_seconds",
			Current:    ref.DurationSeconds,
			Limit:      g.MaxDuration,
			Suggestion: fmt.Sprintf("trim video to %g seconds or less", g.MaxDuration),
		})
	}
}

func (c *checker) geometry(i int, field, kind string, ref content.MediaRef, g Geometry) {
	if ref.Width <= 0 || ref.Height <= 0 {
		return
	}
	dims := []struct {
		name    string
		value   int
		limit   int
		tooHigh bool
	}{
		{"width", ref.Width, g.MaxWidth, true},
		{"height", ref.Height, g.MaxHeight, true},
		{"width", ref.Width, g.MinWidth, false},
		{"height", ref.Height, g.MinHeight, false},
	}
	for _, d := range dims {
		if d.limit <= 0 {
			continue
		}
		if d.tooHigh && d.value > d.limit {
			c.block(Violation{
				Type:       MediaWrongDimensions,
				Message:    fmt.Sprintf("%s #%d %s too large (%dpx, maximum %dpx)", kind, i+1, d.name, d.value, d.limit),
				Field:      field + "." + d.name,
				Current:    d.value,
				Limit:      d.limit,
				Suggestion: fmt.Sprintf("resize %s to %dpx or less", d.name, d.limit),
			})
		}
		if !d.tooHigh && d.value < d.limit {
			c.block(Violation{
				Type:       MediaWrongDimensions,
				Message:    fmt.Sprintf("%s #%d %s too small (%dpx, minimum %dpx)", kind, i+1, d.name, d.value, d.limit),
				Field:      field + "." + d.name,
				Current:    d.value,
				Limit:      d.limit,
				Suggestion: fmt.Sprintf("resize %s to at least %dpx", d.name, d.limit),
			})
		}
	}
	if len(g.AspectRatios) == 0 {
		return
	}
	actual := float64(ref.Width) / float64(ref.Height)
	for _, ratio := range g.AspectRatios {
		expected, err := parseAspectRatio(ratio)
		if err == nil && math.Abs(actual-expected) < aspectTolerance {
			return
		}
	}
	c.block(Violation{
		Type:       MediaWrongAspect,
		Message:    fmt.Sprintf("%s #%d aspect ratio %.2f:1 is not supported", kind, i+1, actual),
		Field:      field + ".aspect_ratio",
		Current:    fmt.Sprintf("%.2f:1", actual),
		Limit:      strings.Join(g.AspectRatios, ", "),
		Suggestion: "resize media to one of: " + strings.Join(g.AspectRatios, ", "),
	})
}

func (c *checker) content(text string) {
	r := c.rules.Content
	fold := cases.Fold()
	folded := fold.String(text)
	for _, word := range r.ForbiddenWords {
		if word == "" || !strings.Contains(folded, fold.String(word)) {
			continue
		}
		c.block(Violation{
			Type:       ForbiddenWords,
			Message:    fmt.Sprintf("caption contains forbidden word %q", word),
			Field:      "caption",
			Current:    word,
			Suggestion: fmt.Sprintf("remove or replace %q", word),
		})
	}
	for _, pattern := range r.ForbiddenPatterns {
		re, err := compilePattern(pattern)
		if err != nil || !re.MatchString(text) {
			continue
		}
		c.block(Violation{
			Type:       ForbiddenPattern,
			Message:    "caption matches a forbidden pattern",
			Field:      "caption",
			Current:    pattern,
			Suggestion: "remove sensitive information from the caption",
		})
	}
	var missing []string
	for _, word := range r.RequiredWords {
		if word != "" && !strings.Contains(folded, fold.String(word)) {
			missing = append(missing, word)
		}
	}
	if len(missing) > 0 {
		c.block(Violation{
			Type:       RequiredWordsMissing,
			Message:    "caption is missing required words: " + strings.Join(missing, ", "),
			Field:      "caption",
			Current:    "missing",
			Limit:      strings.Join(missing, ", "),
			Suggestion: "include " + strings.Join(missing, ", ") + " in the caption",
		})
	}
	for _, bp := range r.BusinessPatterns {
		re, err := compilePattern(bp.Pattern)
		if err != nil || !re.MatchString(text) {
			continue
		}
		sev, err := parseSeverity(bp.Severity)
		if err != nil {
			sev = content.SeverityBlocking
		}
		msg := bp.Message
		if msg == "" {
			msg = "caption violates business rule " + bp.Pattern
		}
		suggestion := bp.Suggestion
		if suggestion == "" {
			suggestion = "modify the content to comply with business rules"
		}
		c.out = append(c.out, Violation{
			Type:       BusinessRule,
			Severity:   sev,
			Message:    msg,
			Field:      "caption",
			Current:    bp.Pattern,
			Suggestion: suggestion,
		})
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
