package preflight_test

import (
	"slices"
	"testing"

	"crosspost/internal/content"
	"crosspost/internal/preflight"
)

const strictRules = `
version: "test-1"
platforms:
  strict:
    caption: {max_length: 14, min_length: 5, required: true}
    hashtags: {max_count: 1, max_length_each: 3}
    mentions: {max_count: 0}
    links: {allowed: true, max_count: 1, allowed_domains: [example.com]}
    media:
      max_count: 1
      max_file_size: 100
      supported_formats: [mp4]
      video: {min_duration: 5, max_duration: 10, max_width: 100, max_height: 100, aspect_ratios: ["1:1"]}
    content:
      forbidden_words: [spam]
      forbidden_patterns: ['\d{4}-\d{4}']
      required_words: [brand]
      business_patterns:
        - {pattern: 'buy now', severity: advisory, message: "hard sell"}
  nolinks:
    caption: {required: false, min_length: 4}
    links: {allowed: false, max_count: 0}
    media: {required: true}
`

func mustRules(t *testing.T, yaml string) *preflight.RuleSet {
	t.Helper()
	rs, err := preflight.ParseRules([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	return rs
}

func defaultRules(t *testing.T) *preflight.RuleSet {
	t.Helper()
	rs, err := preflight.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules: %v", err)
	}
	return rs
}

func violationTypes(res preflight.Result) []string {
	var types []string
	for _, v := range res.Violations {
		types = append(types, v.Type)
	}
	return types
}

func TestValidateReportsEveryViolation(t *testing.T) {
	rules := mustRules(t, strictRules)
	post := content.Post{
		Platform: "strict",
		Caption:  "SPAM 1234-5678 buy now",
		Hashtags: []string{"#ok", "#toolong"},
		Mentions: []string{"@someone"},
		Links:    []string{"https://a.com/x", "https://cdn.example.com/y"},
		Media: []content.MediaRef{
			{Kind: content.MediaVideo, Format: "mkv", SizeBytes: 200, DurationSeconds: 3, Width: 200, Height: 100},
			{Kind: content.MediaVideo, Format: "mp4", SizeBytes: 50, DurationSeconds: 20, Width: 50, Height: 50},
		},
	}

	res := preflight.Validate(post, rules)
	if res.Valid {
		t.Fatal("expected post to be blocked")
	}
	if res.RulesVersion != "test-1" {
		t.Fatalf("expected rules version, got %q", res.RulesVersion)
	}
	got := violationTypes(res)
	want := []string{
		preflight.CaptionTooLong,
		preflight.HashtagsTooMany,
		preflight.HashtagTooLong,
		preflight.MentionsTooMany,
		preflight.LinksTooMany,
		preflight.LinksNotAllowed,
		preflight.MediaTooMany,
		preflight.MediaTooLarge,
		preflight.MediaWrongFormat,
		preflight.MediaTooShort,
		preflight.MediaWrongDimensions,
		preflight.MediaWrongAspect,
		preflight.MediaTooLong,
		preflight.ForbiddenWords,
		preflight.ForbiddenPattern,
		preflight.RequiredWordsMissing,
		preflight.BusinessRule,
	}
	for _, typ := range want {
		if !slices.Contains(got, typ) {
			t.Errorf("missing violation %s in %v", typ, got)
		}
	}
	if adv := res.Advisory(); len(adv) != 1 || adv[0].Type != preflight.BusinessRule || adv[0].Message != "hard sell" {
		t.Fatalf("expected one advisory business rule, got %+v", adv)
	}
	if len(res.Blocking())+len(res.Advisory()) != len(res.Violations) {
		t.Fatal("every violation must be blocking or advisory")
	}
}

func TestValidateCases(t *testing.T) {
	strict := mustRules(t, strictRules)
	defaults := defaultRules(t)

	tests := []struct {
		name      string
		rules     *preflight.RuleSet
		post      content.Post
		wantValid bool
		want      []string
	}{
		{
			name:  "unknown platform",
			rules: defaults,
			post:  content.Post{Platform: "myspace", Caption: "hello"},
			want:  []string{preflight.PlatformNotSupported},
		},
		{
			name:  "empty caption when required",
			rules: strict,
			post:  content.Post{Platform: "strict", Caption: "   ", Links: nil},
			want:  []string{preflight.CaptionEmpty, preflight.RequiredWordsMissing},
		},
		{
			name:  "short caption",
			rules: strict,
			post:  content.Post{Platform: "strict", Caption: "bra"},
			want:  []string{preflight.CaptionTooShort, preflight.RequiredWordsMissing},
		},
		{
			name:  "links disallowed and media required",
			rules: strict,
			post:  content.Post{Platform: "nolinks", Caption: "see https://example.com", Links: []string{"https://example.com"}},
			want:  []string{preflight.LinksNotAllowed, preflight.MediaMissing},
		},
		{
			name:      "advisory only stays valid",
			rules:     strict,
			post:      content.Post{Platform: "strict", Caption: "brand buy now"},
			wantValid: true,
			want:      []string{preflight.BusinessRule},
		},
		{
			name:  "instagram requires media",
			rules: defaults,
			post:  content.Post{Platform: "instagram", Caption: "new drop"},
			want:  []string{preflight.MediaMissing},
		},
		{
			name:  "forbidden words are case folded",
			rules: defaults,
			post:  content.Post{Platform: "vk", Caption: "Никаких НАРКОТИКИ здесь"},
			want:  []string{preflight.ForbiddenWords},
		},
		{
			name:  "credit card pattern",
			rules: defaults,
			post: content.Post{
				Platform: "instagram",
				Caption:  "pay to 1234-5678-9012-3456",
				Media:    []content.MediaRef{{Kind: content.MediaImage, Format: "jpg", Width: 1080, Height: 1080}},
			},
			want: []string{preflight.ForbiddenPattern},
		},
		{
			name:      "telegram text only",
			rules:     defaults,
			post:      content.Post{Platform: "Telegram", Caption: ""},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := preflight.Validate(tt.post, tt.rules)
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid=%v, want %v (violations %v)", res.Valid, tt.wantValid, violationTypes(res))
			}
			got := violationTypes(res)
			if !slices.Equal(got, tt.want) && !(len(got) == 0 && len(tt.want) == 0) {
				t.Fatalf("violations = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAspectRatioTolerance(t *testing.T) {
	rules := defaultRules(t)
	tests := []struct {
		name          string
		width, height int
		wantAspect    bool
	}{
		{"exact portrait", 1080, 1920, false},
		{"within tolerance", 1080, 1921, false},
		{"square", 720, 720, false},
		{"landscape", 1920, 1080, true},
		{"just outside", 1000, 1700, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := content.Post{
				Platform: "tiktok",
				Caption:  "clip",
				Media: []content.MediaRef{{
					Kind: content.MediaVideo, Format: "mp4", DurationSeconds: 15,
					Width: tt.width, Height: tt.height,
				}},
			}
			got := slices.Contains(violationTypes(preflight.Validate(post, rules)), preflight.MediaWrongAspect)
			if got != tt.wantAspect {
				t.Fatalf("aspect violation = %v, want %v", got, tt.wantAspect)
			}
		})
	}
}

func TestParseRulesRejectsBrokenRules(t *testing.T) {
	tests := map[string]string{
		"no platforms": "version: x\n",
		"bad regex":    "platforms:\n  a:\n    content:\n      forbidden_patterns: ['(']\n",
		"bad ratio":    "platforms:\n  a:\n    media:\n      video:\n        aspect_ratios: ['wide']\n",
		"bad severity": "platforms:\n  a:\n    content:\n      business_patterns: [{pattern: x, severity: loud}]\n",
		"bad yaml":     "platforms: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := preflight.ParseRules([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPartialRulesInheritDefaults(t *testing.T) {
	rs := mustRules(t, "platforms:\n  Mastodon:\n    caption: {max_length: 500}\n")
	pr, ok := rs.For("mastodon")
	if !ok {
		t.Fatal("expected platform names to be lowercased")
	}
	if pr.Caption.MaxLength != 500 || !pr.Caption.Required {
		t.Fatalf("caption rules not merged: %+v", pr.Caption)
	}
	if pr.Hashtags.MaxCount != 30 || !pr.Links.Allowed || pr.Media.MaxCount != 10 {
		t.Fatalf("defaults not applied: %+v", pr)
	}
}

func TestDefaultRulesCoverKnownPlatforms(t *testing.T) {
	got := defaultRules(t).PlatformNames()
	want := []string{"instagram", "telegram", "tiktok", "vk", "youtube"}
	if !slices.Equal(got, want) {
		t.Fatalf("platforms = %v, want %v", got, want)
	}
}
