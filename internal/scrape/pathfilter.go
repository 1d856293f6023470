package scrape

import (
	"net/url"
	"path"
	"strings"
)

// PathFilter selects discovered URLs worth a full scrape using glob-style
// path patterns. The crawl provider applies the same patterns server-side,
// but that filtering is best-effort; this is the authoritative pass.
type PathFilter struct {
	include []string
	exclude []string
}

func NewPathFilter(include, exclude []string) *PathFilter {
	return &PathFilter{include: include, exclude: exclude}
}

// Keep reports whether a URL survives the filter: excluded patterns always
// lose; when include patterns exist, a URL must match one of them (the
// site root always passes).
func (f *PathFilter) Keep(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)

	for _, pat := range f.exclude {
		if matchSegmented(strings.ToLower(pat), p) {
			return false
		}
	}
	if len(f.include) == 0 || p == "" || p == "/" {
		return true
	}
	for _, pat := range f.include {
		if matchSegmented(strings.ToLower(pat), p) {
			return true
		}
	}
	return false
}

// Select filters page refs in place order.
func (f *PathFilter) Select(refs []PageRef) []PageRef {
	out := make([]PageRef, 0, len(refs))
	for _, r := range refs {
		if f.Keep(r.URL) {
			out = append(out, r)
		}
	}
	return out
}

// matchSegmented glob-matches a URL path, treating a trailing "/*" (or
// bare trailing "*") as a prefix match so "/blog/*" catches
// "/blog/a/b/c" and "/product*" catches "/products/widget".
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(urlPath, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
