package discovery

import (
	"net/url"
	"regexp"
	"strings"
)

type urlRule struct {
	name  string
	match func(path string) bool
}

func patternRule(name, expr string) urlRule {
	re := regexp.MustCompile(expr)
	return urlRule{name: name, match: re.MatchString}
}

// Both lists are ordered and evaluated first-match-wins; exclusions run
// before inclusions. Reordering changes classification of overlapping paths.
var (
	exclusionRules = []urlRule{
		patternRule("utility",
			`^/(about|about-us|contact|contact-us|privacy|privacy-policy|terms|terms-of-service|login|logout|signin|signup|register|cart|checkout|account|my-account|search|faq|careers|jobs|team|sitemap|feed|rss|wp-admin|wp-login\.php|wp-json|admin|cdn-cgi)(/.*)?$`),
		patternRule("taxonomy",
			`(^|/)(tag|tags|category|categories|author|authors|page|archive|archives|feed|comments)(/|$)`),
		patternRule("asset",
			`\.(png|jpe?g|gif|svg|webp|avif|ico|bmp|css|js|mjs|map|json|xml|gz|txt|pdf|zip|rar|mp3|mp4|webm|mov|woff2?|ttf|eot|otf)$`),
		patternRule("homepage", `^/?$`),
		patternRule("hub", `^/[a-z]+/?$`),
		patternRule("blog-index",
			`^/(blog|blogs|news|articles|posts|insights|resources|journal|stories)(/index(\.html?|\.php)?)?/?$`),
	}

	inclusionRules = []urlRule{
		patternRule("dated", `/\d{4}/\d{2}(/\d{2})?/[^/]+`),
		patternRule("section",
			`^/(blog|blogs|news|articles|article|posts|post|insights|resources|journal|stories|guides|learn)/[^/]+`),
		patternRule("multi-segment-slug", `^(/[^/]+)+/[^/]*[a-z0-9]-[a-z0-9][^/]*/?$`),
		{name: "long-slug", match: longHyphenatedSlug},
	}
)

const minSlugLength = 25

func longHyphenatedSlug(path string) bool {
	segment := path[strings.LastIndex(strings.TrimSuffix(path, "/"), "/")+1:]
	segment = strings.TrimSuffix(segment, "/")
	return len(segment) >= minSlugLength && strings.Contains(segment, "-")
}

// IsContentURL reports whether rawURL looks like an individual article rather
// than a hub, utility page or asset. Only the path is inspected.
func IsContentURL(rawURL string) bool {
	_, ok := classify(rawURL)
	return ok
}

// classify returns the name of the deciding rule alongside the verdict.
func classify(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "unparsable", false
	}
	path := strings.ToLower(u.EscapedPath())
	if path == "" {
		path = "/"
	}
	for _, rule := range exclusionRules {
		if rule.match(path) {
			return rule.name, false
		}
	}
	for _, rule := range inclusionRules {
		if rule.match(path) {
			return rule.name, true
		}
	}
	return "unmatched", false
}
