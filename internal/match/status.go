package match

import (
	"regexp"
	"strings"
)

// Status is the work-progress claim detected in an utterance.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
	StatusTodo       Status = "todo"
	StatusBlocked    Status = "blocked"
	StatusUnknown    Status = "unknown"
)

type statusRule struct {
	status   Status
	patterns []*regexp.Regexp
}

// statusRules are evaluated in order; the first hit wins. Completion is checked
// first because "ทำ...เสร็จ" would otherwise read as in-progress.
var statusRules = []statusRule{
	{StatusCompleted, compileAll(
		`(.+)(เสร็จ|done|finished|complete)`,
		`(เสร็จ|done|finished|complete)(.+)`,
		`ทำ(.+)เสร็จ`,
	)},
	{StatusInProgress, compileAll(
		`กำลังทำ(.+)`,
		`ทำ(.+)อยู่`,
		`(working on|doing)(.+)`,
	)},
	{StatusTodo, compileAll(
		`วันนี้จะทำ(.+)`,
		`จะทำ(.+)`,
		`(will do|going to)(.+)`,
		`ต่อไปจะ(.+)`,
	)},
	{StatusBlocked, compileAll(
		`(.+)(ติด|stuck|blocked)`,
		`มีปัญหา(.+)`,
		`(.+)(ไม่ได้|can't|cannot)`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// DetectStatus guesses whether text reports finished, ongoing, planned, or
// blocked work.
func DetectStatus(text string) Status {
	clean := strings.ToLower(text)
	for _, rule := range statusRules {
		for _, p := range rule.patterns {
			if p.MatchString(clean) {
				return rule.status
			}
		}
	}
	return StatusUnknown
}
