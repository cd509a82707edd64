package patterns

import (
	"regexp"
	"strings"
)

// recognizers are tried in order; the first match wins. Year/month archives
// come first so "/blog/2023/05/" keeps both segments, and the generic
// numbered segment comes last.
var recognizers = []*regexp.Regexp{
	regexp.MustCompile(`/(\d{4})/(\d{2})/`),
	regexp.MustCompile(`/blog/(\d+)/`),
	regexp.MustCompile(`/page/(\d+)/`),
	regexp.MustCompile(`/category/([\w-]+)/`),
	regexp.MustCompile(`/tag/([\w-]+)/`),
	regexp.MustCompile(`/product/([\w-]+)/`),
	regexp.MustCompile(`/article/([\w-]+)/`),
	regexp.MustCompile(`/(\d+)(?:/|$)`),
}

const (
	placeholderNum   = "{num}"
	placeholderParam = "{param}"
)

var digits = regexp.MustCompile(`^\d+$`)

// Template derives a path template from path. Everything up to the end of
// the first recognized shape is kept; captured segments become {num} when
// they are all digits and {param} otherwise. "/blog/42/" yields
// "/blog/{num}/" and "/category/news/" yields "/category/{param}/".
func Template(path string) (string, bool) {
	for _, re := range recognizers {
		m := re.FindStringSubmatchIndex(path)
		if m == nil {
			continue
		}
		var b strings.Builder
		b.WriteString(path[:m[0]])
		pos := m[0]
		for g := 2; g+1 < len(m); g += 2 {
			start, end := m[g], m[g+1]
			if start < 0 {
				continue
			}
			b.WriteString(path[pos:start])
			if digits.MatchString(path[start:end]) {
				b.WriteString(placeholderNum)
			} else {
				b.WriteString(placeholderParam)
			}
			pos = end
		}
		b.WriteString(path[pos:m[1]])
		return b.String(), true
	}
	return "", false
}

// Placeholders counts the placeholders in a template.
func Placeholders(template string) int {
	return strings.Count(template, placeholderNum) + strings.Count(template, placeholderParam)
}

var assetDirs = map[string]bool{
	"js": true, "css": true, "img": true, "images": true, "assets": true, "static": true,
}

// Section returns the top-level section "/first-segment/" of path. Segments
// shorter than two characters, numeric segments and asset directories are
// not sections.
func Section(path string) (string, bool) {
	if len(path) <= 1 || len(path) >= 100 {
		return "", false
	}
	first, _, _ := strings.Cut(strings.Trim(path, "/"), "/")
	if len(first) < 2 || digits.MatchString(first) || assetDirs[strings.ToLower(first)] {
		return "", false
	}
	if strings.Contains(first, ".") {
		return "", false
	}
	return "/" + first + "/", true
}
