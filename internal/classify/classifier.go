// Package classify turns free-text sender messages into typed intents.
//
// Classification is a pure function. Candidate formats are tried in a fixed
// priority order (daily update, attendance, announcement) and the first
// structural match wins, so a message that satisfies two loose formats always
// resolves to the earlier one. Text that matches a format only partially is
// never returned as that format: it falls through to the next matcher and
// ultimately to domain.Unrecognized.
package classify

import (
	"strings"

	"schoolcomm/internal/domain"
)

// matcher recognizes one intent variant in a message split into lines.
type matcher func(lines []string) (domain.Intent, bool)

// matchers are evaluated in priority order.
var matchers = []matcher{
	matchDailyUpdate,
	matchAttendance,
	matchAnnouncement,
}

// Classify returns the intent expressed by text. It never fails: text that
// matches no format yields domain.Unrecognized carrying the original text.
func Classify(text string) domain.Intent {
	lines := splitLines(text)
	for _, match := range matchers {
		if intent, ok := match(lines); ok {
			return intent
		}
	}
	return domain.Unrecognized{RawText: text}
}

var dailyUpdateLabels = [...]string{"Class", "Subject", "Topic", "Homework", "Understanding"}

// matchDailyUpdate looks for the five labeled lines in order on consecutive lines.
func matchDailyUpdate(lines []string) (domain.Intent, bool) {
	for i := 0; i+len(dailyUpdateLabels) <= len(lines); i++ {
		var values [len(dailyUpdateLabels)]string
		complete := true
		for j, label := range dailyUpdateLabels {
			v, ok := labeled(lines[i+j], label)
			if !ok || v == "" {
				complete = false
				break
			}
			values[j] = v
		}
		if !complete {
			continue
		}
		understanding, ok := domain.ParseUnderstanding(values[4])
		if !ok {
			continue
		}
		return domain.DailyUpdate{
			ClassName:     values[0],
			Subject:       values[1],
			Topic:         values[2],
			Homework:      values[3],
			Understanding: understanding,
		}, true
	}
	return nil, false
}

// matchAttendance parses the first "Attendance:" line. Every comma-separated
// token must be P or A; a single bad token rejects the whole line.
func matchAttendance(lines []string) (domain.Intent, bool) {
	for _, line := range lines {
		v, ok := labeled(line, "Attendance")
		if !ok {
			continue
		}
		tokens := strings.Split(v, ",")
		records := make([]domain.AttendanceMark, 0, len(tokens))
		for _, tok := range tokens {
			switch strings.ToUpper(strings.TrimSpace(tok)) {
			case string(domain.Present):
				records = append(records, domain.Present)
			case string(domain.Absent):
				records = append(records, domain.Absent)
			default:
				return nil, false
			}
		}
		return domain.Attendance{Records: records}, true
	}
	return nil, false
}

// matchAnnouncement takes the title from the "Announcement:" line and the body
// from an optional later "Message:" line through the end of the text. Lines in
// between continue the title. Without a body the title is used for both.
func matchAnnouncement(lines []string) (domain.Intent, bool) {
	for i, line := range lines {
		title, ok := labeled(line, "Announcement")
		if !ok {
			continue
		}
		titleLines := []string{title}
		var body string
		for j := i + 1; j < len(lines); j++ {
			if first, ok := labeled(lines[j], "Message"); ok {
				rest := append([]string{first}, lines[j+1:]...)
				body = strings.TrimSpace(strings.Join(rest, "\n"))
				break
			}
			titleLines = append(titleLines, lines[j])
		}
		title = strings.TrimSpace(strings.Join(titleLines, "\n"))
		if title == "" {
			return nil, false
		}
		if body == "" {
			body = title
		}
		return domain.Announcement{Title: title, Body: body}, true
	}
	return nil, false
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// labeled returns the trimmed value of a "Label: value" line. The label is
// matched case-insensitively and must be followed directly by a colon.
func labeled(line, label string) (string, bool) {
	s := strings.TrimSpace(line)
	if len(s) <= len(label) || s[len(label)] != ':' || !strings.EqualFold(s[:len(label)], label) {
		return "", false
	}
	return strings.TrimSpace(s[len(label)+1:]), true
}
