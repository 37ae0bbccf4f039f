package analysis

import (
	"strconv"
	"strings"
)

const (
	pageMarker = "PAGE:"
	notFound   = "Not found"
	noneReply  = "none"
)

// FirstMention is the parsed answer to a first-mention query. Page is a
// 1-based label and only meaningful when Known.
type FirstMention struct {
	Character string `json:"character"`
	Page      int    `json:"page,omitempty"`
	Known     bool   `json:"known"`
	Raw       string `json:"raw,omitempty"`
	// Ambiguous marks replies that matched neither documented form.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// ParseFirstMention reads "PAGE: <integer>" or "Not found" from raw.
//
// If "PAGE:" occurs, the first whitespace-delimited field after it, with
// surrounding punctuation removed, must be a positive integer; anything
// else is Unknown and ambiguous. Without "PAGE:", "Not found" is a clean
// Unknown and every other reply is an ambiguous Unknown.
func ParseFirstMention(raw string) FirstMention {
	fm := FirstMention{Raw: raw}
	if i := strings.Index(raw, pageMarker); i >= 0 {
		fields := strings.Fields(raw[i+len(pageMarker):])
		if len(fields) == 0 {
			fm.Ambiguous = true
			return fm
		}
		n, err := strconv.Atoi(strings.Trim(fields[0], ".,;:!?()[]*\"'"))
		if err != nil || n <= 0 {
			fm.Ambiguous = true
			return fm
		}
		fm.Page, fm.Known = n, true
		return fm
	}
	if !strings.Contains(raw, notFound) {
		fm.Ambiguous = true
	}
	return fm
}

// ParseNames splits a comma-separated reply into names. Fields are trimmed,
// empty fields dropped, duplicates removed keeping first occurrence. A sole
// "None" reply is the empty set.
func ParseNames(raw string) []string {
	names := []string{}
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(strings.TrimSuffix(trimmed, "."), noneReply) {
		return names
	}
	seen := make(map[string]bool)
	for _, field := range strings.Split(trimmed, ",") {
		name := strings.TrimSpace(field)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
