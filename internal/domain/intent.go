package domain

import "strings"

// IntentKind names the classified purpose of an inbound message.
type IntentKind string

const (
	IntentDailyUpdate  IntentKind = "daily_update"
	IntentAttendance   IntentKind = "attendance"
	IntentAnnouncement IntentKind = "announcement"
	IntentUnrecognized IntentKind = "unrecognized"
)

// Intent is the result of classifying a message. The set of variants is closed:
// DailyUpdate, Attendance, Announcement and Unrecognized.
type Intent interface {
	Kind() IntentKind
	isIntent()
}

// Understanding is the class's understanding level reported in a daily update.
type Understanding string

const (
	UnderstandingGood    Understanding = "Good"
	UnderstandingAverage Understanding = "Average"
	UnderstandingWeak    Understanding = "Weak"
)

// ParseUnderstanding matches s case-insensitively against the known levels.
func ParseUnderstanding(s string) (Understanding, bool) {
	for _, u := range []Understanding{UnderstandingGood, UnderstandingAverage, UnderstandingWeak} {
		if strings.EqualFold(s, string(u)) {
			return u, true
		}
	}
	return "", false
}

// AttendanceMark is a single roll-call entry.
type AttendanceMark string

const (
	Present AttendanceMark = "P"
	Absent  AttendanceMark = "A"
)

type DailyUpdate struct {
	ClassName     string        `json:"class_name"`
	Subject       string        `json:"subject"`
	Topic         string        `json:"topic"`
	Homework      string        `json:"homework"`
	Understanding Understanding `json:"understanding"`
}

type Attendance struct {
	Records []AttendanceMark `json:"records"`
}

// Present returns how many students were marked present.
func (a Attendance) Present() int {
	n := 0
	for _, r := range a.Records {
		if r == Present {
			n++
		}
	}
	return n
}

type Announcement struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Unrecognized struct {
	RawText string `json:"raw_text"`
}

func (DailyUpdate) Kind() IntentKind  { return IntentDailyUpdate }
func (Attendance) Kind() IntentKind   { return IntentAttendance }
func (Announcement) Kind() IntentKind { return IntentAnnouncement }
func (Unrecognized) Kind() IntentKind { return IntentUnrecognized }

func (DailyUpdate) isIntent()  {}
func (Attendance) isIntent()   {}
func (Announcement) isIntent() {}
func (Unrecognized) isIntent() {}
