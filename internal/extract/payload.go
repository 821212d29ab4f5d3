package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// The vision model is asked for strict JSON but routinely wraps it in
// code fences or prose. These parsers strip the decoration, try a
// direct parse, then fall back to the first balanced bracketed
// substring, preferring one that carries the expected marker key.

type itemsPayload struct {
	Items []string `json:"items"`
}

func parseItemsPayload(text string) ([]string, error) {
	body := stripFences(text)

	var payload itemsPayload
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Items != nil {
		return payload.Items, nil
	}
	for _, frag := range balancedFragments(body, '{', '}') {
		if !strings.Contains(frag, `"items"`) {
			continue
		}
		if err := json.Unmarshal([]byte(frag), &payload); err == nil && payload.Items != nil {
			return payload.Items, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrParse, preview(text))
}

func parseStringArray(text string) ([]string, error) {
	body := stripFences(text)

	var arr []string
	if err := json.Unmarshal([]byte(body), &arr); err == nil {
		return arr, nil
	}
	for _, frag := range balancedFragments(body, '[', ']') {
		if err := json.Unmarshal([]byte(frag), &arr); err == nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrParse, preview(text))
}

var (
	coordRe  = regexp.MustCompile(`COORDINATES:\s*\((\d+)\s*,\s*(\d+)\)`)
	boundsRe = regexp.MustCompile(`BOUNDS:\s*\((\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\)`)
)

// parseLocation reads the COORDINATES/BOUNDS line format of the
// locate prompts. BOUNDS is optional; NOT_FOUND is a locate failure.
func parseLocation(text string) (Point, Region, error) {
	if strings.Contains(text, "NOT_FOUND") {
		return Point{}, Region{}, fmt.Errorf("%w: target not visible", ErrLocate)
	}
	m := coordRe.FindStringSubmatch(text)
	if m == nil {
		return Point{}, Region{}, fmt.Errorf("%w: no coordinates in %s", ErrLocate, preview(text))
	}
	pt := Point{X: atoi(m[1]), Y: atoi(m[2])}
	var region Region
	if b := boundsRe.FindStringSubmatch(text); b != nil {
		region = Region{X: atoi(b[1]), Y: atoi(b[2]), W: atoi(b[3]), H: atoi(b[4])}
	}
	return pt, region, nil
}

type verification struct {
	Visible bool
	Title   string
	View    string
}

var titleRe = regexp.MustCompile(`(?i)RECORD_TITLE:\s*(.+)`)

// parseVerification reads the RECORD_VISIBLE/RECORD_TITLE/VIEW_TYPE
// line format of the verify prompt.
func parseVerification(text string) verification {
	upper := strings.ToUpper(text)
	v := verification{
		Visible: strings.Contains(upper, "RECORD_VISIBLE: YES"),
		View:    "unknown",
	}
	if strings.Contains(upper, "VIEW_TYPE: PANEL") {
		v.View = "panel"
	} else if strings.Contains(upper, "VIEW_TYPE: MAIN") {
		v.View = "main"
	}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		title := strings.TrimSpace(m[1])
		if !strings.EqualFold(title, "UNKNOWN") {
			v.Title = title
		}
	}
	return v
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
	} else {
		return s
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// balancedFragments returns every top-level balanced open…close
// substring, skipping brackets inside JSON string literals.
func balancedFragments(text string, open, close byte) []string {
	var frags []string
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case open:
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case close:
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					frags = append(frags, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return frags
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
