package domain

import "strings"

var headerReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeHeader turns a source column header into a snake_case key:
// the bracketed footnote suffix is dropped ("Country name[5]" -> "country_name"),
// then the text is trimmed, lowercased, and spaces and hyphens become
// underscores ("Alpha-3 code" -> "alpha_3_code").
func NormalizeHeader(h string) string {
	if i := strings.IndexByte(h, '['); i >= 0 {
		h = h[:i]
	}
	return headerReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))
}

// NormalizeHeaders applies NormalizeHeader to every header.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = NormalizeHeader(h)
	}
	return out
}

// ColumnIndex returns the position of the first header equal to one of the
// given names, or -1.
func ColumnIndex(headers []string, names ...string) int {
	for _, name := range names {
		for i, h := range headers {
			if h == name {
				return i
			}
		}
	}
	return -1
}
