package milestone

import "fmt"

// Links holds the study URLs interpolated into the completion notice.
type Links struct {
	FinalSurveyURL string
	SchedulingURL  string
}

const (
	midpointThreshold   = 7
	completionThreshold = 14
)

type templateKey struct {
	threshold int
	group     string
}

// Message templates keyed by threshold and study group. A lookup table rather
// than string branching, so adding a group means adding rows, not code paths.
var templates = map[templateKey]string{
	{midpointThreshold, "GROUP_A"}:    "Great job! You have reached 7 active days, you are halfway through the study. Keep going!",
	{midpointThreshold, "GROUP_B"}:    "Well done! 7 active days recorded, that is the halfway mark. Keep it up!",
	{completionThreshold, "GROUP_A"}:  "Congratulations, you have completed all 14 active days of the study! Please fill in the final survey: %s\nYou can book your debriefing session here: %s",
	{completionThreshold, "GROUP_B"}:  "You made it: 14 active days, the study is complete! Final survey: %s\nBook your debriefing session here: %s",
	{midpointThreshold, "UNASSIGNED"}: "You have reached 7 active days, halfway through the study!",
	{completionThreshold, "UNASSIGNED"}: "You have completed all 14 active days of the study! Final survey: %s\nScheduling: %s",
}

// MessageFor returns the notification text for a fired threshold and group.
// The second return is false when no template is configured for the pair.
func MessageFor(threshold int, group string, links Links) (string, bool) {
	tmpl, ok := templates[templateKey{threshold, group}]
	if !ok {
		// Fall back to the neutral variant for groups without a dedicated text.
		tmpl, ok = templates[templateKey{threshold, "UNASSIGNED"}]
		if !ok {
			return "", false
		}
	}
	if threshold == completionThreshold {
		return fmt.Sprintf(tmpl, links.FinalSurveyURL, links.SchedulingURL), true
	}
	return tmpl, true
}
