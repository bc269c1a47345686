package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// JSONCandidates returns the JSON documents embedded in a model reply, in
// order of appearance: the contents of fenced code blocks first, then every
// balanced top-level object or array found in the unfenced text. Only
// syntactically valid documents are returned.
func JSONCandidates(text string) []string {
	var out []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			out = append(out, body)
		}
	}
	for _, doc := range balanced(fencedBlock.ReplaceAllString(text, " ")) {
		if json.Valid([]byte(doc)) {
			out = append(out, doc)
		}
	}
	return out
}

// FirstJSON returns the first JSON document in text.
func FirstJSON(text string) (string, bool) {
	c := JSONCandidates(text)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}

// LastJSON returns the JSON document closest to the end of text, preferring
// fenced blocks over bare objects when both are present.
func LastJSON(text string) (string, bool) {
	fenced := fencedBlock.FindAllStringSubmatch(text, -1)
	for i := len(fenced) - 1; i >= 0; i-- {
		if body := strings.TrimSpace(fenced[i][1]); json.Valid([]byte(body)) {
			return body, true
		}
	}
	docs := balanced(text)
	for i := len(docs) - 1; i >= 0; i-- {
		if json.Valid([]byte(docs[i])) {
			return docs[i], true
		}
	}
	return "", false
}

// balanced scans text for top-level {...} and [...] spans, honoring JSON
// string quoting so braces inside strings do not count.
func balanced(text string) []string {
	var out []string
	var stack []byte
	start := -1
	inString, escaped := false, false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if len(stack) > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				// Mismatched close; abandon this span.
				stack, start = stack[:0], -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && start >= 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}
