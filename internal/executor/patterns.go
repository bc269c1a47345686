package executor

import "regexp"

// PatternKind classifies an agent's reply.
type PatternKind int

const (
	PatternUnknown PatternKind = iota
	PatternRateLimited
	PatternPermissionRequest
	PatternDataNeeded
	PatternFailed
	PatternCompleted
)

// String returns the string representation of the kind.
func (k PatternKind) String() string {
	switch k {
	case PatternRateLimited:
		return "rate_limited"
	case PatternPermissionRequest:
		return "permission_request"
	case PatternDataNeeded:
		return "data_needed"
	case PatternFailed:
		return "failed"
	case PatternCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type pattern struct {
	kind PatternKind
	re   *regexp.Regexp
}

// precedence is checked in order; the first kind with a matching expression
// wins. Unknown is the result when nothing matches.
var precedence = []pattern{
	{PatternRateLimited, regexp.MustCompile(`(?i)(rate[ -]?limit|too many requests|\b429\b|quota exceeded|try again later)`)},
	{PatternPermissionRequest, regexp.MustCompile(`(?i)(would you like me to|do you want me to|shall i|should i (go ahead|proceed|continue)|may i proceed|please confirm|requires? (your )?(approval|confirmation))`)},
	{PatternDataNeeded, regexp.MustCompile(`(?i)(please provide|could you (provide|share|specify)|i need (the|a|an|more|to know)|missing (a )?(required )?(parameter|field|value|id)|which .{1,40} should i use)`)},
	{PatternFailed, regexp.MustCompile(`(?i)(\bfailed\b|\bfailure\b|unable to|could not|couldn't|not found|exception|\b(an|the) error\b|\berror(:| occurred| code| message| response| was returned)|\b(status|http|code)( code)?:? ?(4\d\d|5\d\d)\b|\b(4\d\d|5\d\d) (bad request|unauthori[sz]ed|forbidden|conflict|internal server error|bad gateway|service unavailable|gateway timeout)\b)`)},
	{PatternCompleted, regexp.MustCompile(`(?i)(success|completed|\bdone\b|\b(created|updated|deleted|retrieved|listed|fetched|sent)\b|here (is|are) the)`)},
}

// MatchPattern classifies text by the first matching kind in precedence
// order: rate limited, permission request, data needed, failed, completed.
func MatchPattern(text string) PatternKind {
	for _, p := range precedence {
		if p.re.MatchString(text) {
			return p.kind
		}
	}
	return PatternUnknown
}
