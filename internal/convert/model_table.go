package convert

import "regexp"

// ModelTable maps a Protocol-A model pattern to a Protocol-B model id.
// Patterns are matched in order; the first match wins. A model with no
// matching pattern passes through verbatim.
type ModelTable []ModelMapping

// ModelMapping is one entry of a ModelTable.
type ModelMapping struct {
	// Pattern is matched against the incoming Protocol-A model string.
	// A plain string must match exactly; a pattern beginning and ending
	// with "/" is treated as a regular expression.
	Pattern string
	Target  string
}

// Resolve maps model to its Protocol-B target, or returns model unchanged
// if no mapping matches.
func (t ModelTable) Resolve(model string) string {
	for _, m := range t {
		if isRegexPattern(m.Pattern) {
			re, err := regexp.Compile(m.Pattern[1 : len(m.Pattern)-1])
			if err != nil {
				continue
			}
			if re.MatchString(model) {
				return m.Target
			}
			continue
		}
		if m.Pattern == model {
			return m.Target
		}
	}
	return model
}

func isRegexPattern(p string) bool {
	return len(p) >= 2 && p[0] == '/' && p[len(p)-1] == '/'
}
