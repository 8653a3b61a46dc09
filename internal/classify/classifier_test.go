package classify

import (
	"reflect"
	"testing"

	"schoolcomm/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.Intent
	}{
		{
			name: "daily update",
			text: "Class: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Good",
			want: domain.DailyUpdate{
				ClassName:     "Grade 5A",
				Subject:       "Math",
				Topic:         "Fractions",
				Homework:      "p.10",
				Understanding: domain.UnderstandingGood,
			},
		},
		{
			name: "daily update trims and canonicalizes",
			text: "  class:   Grade 6B  \r\nSUBJECT: Science\r\nTopic:  Plants \r\nhomework: Read ch. 3\r\nUnderstanding:   weak  ",
			want: domain.DailyUpdate{
				ClassName:     "Grade 6B",
				Subject:       "Science",
				Topic:         "Plants",
				Homework:      "Read ch. 3",
				Understanding: domain.UnderstandingWeak,
			},
		},
		{
			name: "daily update surrounded by other text",
			text: "Good morning\nClass: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Average\nThanks",
			want: domain.DailyUpdate{
				ClassName:     "Grade 5A",
				Subject:       "Math",
				Topic:         "Fractions",
				Homework:      "p.10",
				Understanding: domain.UnderstandingAverage,
			},
		},
		{
			name: "invalid understanding falls through to attendance",
			text: "Class: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Great\nAttendance: P,A",
			want: domain.Attendance{Records: []domain.AttendanceMark{domain.Present, domain.Absent}},
		},
		{
			name: "attendance",
			text: "Attendance: P, p ,A,a,P",
			want: domain.Attendance{Records: []domain.AttendanceMark{
				domain.Present, domain.Present, domain.Absent, domain.Absent, domain.Present,
			}},
		},
		{
			name: "announcement",
			text: "Announcement: School Holiday\nMessage: Tomorrow is a public holiday.",
			want: domain.Announcement{Title: "School Holiday", Body: "Tomorrow is a public holiday."},
		},
		{
			name: "announcement body defaults to title",
			text: "Announcement: Sports day on Friday",
			want: domain.Announcement{Title: "Sports day on Friday", Body: "Sports day on Friday"},
		},
		{
			name: "announcement multiline body",
			text: "announcement: Exam schedule\nmessage: Math on Monday\nScience on Tuesday\n",
			want: domain.Announcement{Title: "Exam schedule", Body: "Math on Monday\nScience on Tuesday"},
		},
		{
			name: "bad attendance falls to announcement",
			text: "Attendance: P,A,X\nAnnouncement: Roll call",
			want: domain.Announcement{Title: "Roll call", Body: "Roll call"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	daily := "Class: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: "
	inputs := []string{
		"",
		"hello",
		"Class Grade 5A",
		"Attendance P,A",
		daily + "Excellent",
		daily + "Goodish",
		daily,
		daily + "Good.",
		"Attendance: P,A,X",
		"Attendance: P,,A",
		"Attendance: P,A,",
		"Attendance:",
		"Attendance: PA",
	}
	for _, text := range inputs {
		got := Classify(text)
		if !reflect.DeepEqual(got, domain.Unrecognized{RawText: text}) {
			t.Errorf("Classify(%q) = %#v, want unrecognized", text, got)
		}
	}
}

func TestClassify_DailyUpdate_MissingOrReorderedLine(t *testing.T) {
	inputs := map[string]string{
		"missing":     "Class: Grade 5A\nSubject: Math\nHomework: p.10\nUnderstanding: Good",
		"reordered":   "Subject: Math\nClass: Grade 5A\nTopic: Fractions\nHomework: p.10\nUnderstanding: Good",
		"empty value": "Class: \nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Good",
	}
	for name, text := range inputs {
		if kind := Classify(text).Kind(); kind != domain.IntentUnrecognized {
			t.Errorf("%s: expected unrecognized, got %q", name, kind)
		}
	}
}

func TestClassify_Announcement_EmptyTitleIsUnrecognized(t *testing.T) {
	if kind := Classify("Announcement:   ").Kind(); kind != domain.IntentUnrecognized {
		t.Errorf("expected unrecognized, got %q", kind)
	}
}

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		text string
		want domain.IntentKind
	}{
		{"Announcement: Roll call\nAttendance: P,A,P", domain.IntentAttendance},
		{"Announcement: Update\nAttendance: P,P\nClass: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Good", domain.IntentDailyUpdate},
	}
	for _, tt := range tests {
		if got := Classify(tt.text).Kind(); got != tt.want {
			t.Errorf("Classify(%q).Kind() = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []string{
		"Class: Grade 5A\nSubject: Math\nTopic: Fractions\nHomework: p.10\nUnderstanding: Good",
		"Attendance: P,A,P",
		"Announcement: Holiday\nMessage: Closed",
		"random words",
	}
	for _, text := range inputs {
		if a, b := Classify(text), Classify(text); !reflect.DeepEqual(a, b) {
			t.Errorf("Classify(%q) not stable: %#v vs %#v", text, a, b)
		}
	}
}
