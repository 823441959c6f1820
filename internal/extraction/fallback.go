package extraction

import (
	"regexp"
	"strings"
)

// Fallback tier: independent pattern matchers over the raw conversation
// text. Deliberately loose: a false positive here is cheaper than a lost
// lead, and the merge engine never clobbers existing data.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// North-American-style numbers: 555-123-4567, (555) 123 4567, 555.123.4567.
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)

	// Company names keyed on trigger phrases in the visitor's own words.
	companyPattern = regexp.MustCompile(`(?i)(?:company is|work at|work for|representing)\s+([A-Za-z][A-Za-z0-9&.\- ]{1,40})`)
)

func patternExtract(text string) *Info {
	info := &Info{}

	if m := emailPattern.FindString(text); m != "" {
		info.Email = m
	}
	if m := phonePattern.FindString(text); m != "" {
		info.Phone = strings.TrimSpace(m)
	}
	if m := companyPattern.FindStringSubmatch(text); len(m) > 1 {
		info.Company = trimCompany(m[1])
	}

	return info
}

// trimCompany cuts the captured run at the first clause boundary so
// "work at Acme Corp and we need..." yields "Acme Corp".
func trimCompany(s string) string {
	s = strings.TrimSpace(s)
	for _, stop := range []string{" and ", " but ", " so ", " which "} {
		if i := strings.Index(s, stop); i > 0 {
			s = s[:i]
		}
	}
	return strings.TrimRight(strings.TrimSpace(s), ".,")
}
