package tools

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"granny-companion/internal/capability"
)

const (
	eventDescriptionLimit = 100
	emailBodyLimit        = 500
)

var whitespaceRun = regexp.MustCompile(`\s+`)

func formatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM")
}

func formatDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Monday, January 2")
}

func formatEventWhen(ev capability.Event, loc *time.Location) string {
	if ev.AllDay {
		return formatDay(ev.Start, loc) + ", all day"
	}
	return formatDateTime(ev.Start, loc)
}

func eventTitle(ev capability.Event) string {
	if ev.Summary == "" {
		return "Untitled"
	}
	return ev.Summary
}

func formatEventList(events []capability.Event, loc *time.Location) string {
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("%d. %s - %s", i+1, eventTitle(ev), formatEventWhen(ev, loc))
	}
	return strings.Join(lines, "\n")
}

func formatDaySchedule(events []capability.Event, loc *time.Location) string {
	lines := make([]string, len(events))
	for i, ev := range events {
		when := "All day"
		if !ev.AllDay {
			when = ev.Start.In(loc).Format("3:04 PM")
		}
		line := fmt.Sprintf("%d. %s - %s", i+1, when, eventTitle(ev))
		if ev.Location != "" {
			line += " at " + ev.Location
		}
		if ev.Description != "" {
			line += ". Details: " + shorten(ev.Description, eventDescriptionLimit)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// senderName returns the display part of a "Name <addr>" header.
func senderName(from string) string {
	if i := strings.Index(from, "<"); i > 0 {
		name := strings.Trim(strings.TrimSpace(from[:i]), `"`)
		if name != "" {
			return name
		}
	}
	return strings.Trim(strings.TrimSpace(from), "<>")
}

// senderAddress returns the address part of a "Name <addr>" header.
func senderAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.LastIndex(from, ">")
	if start >= 0 && end > start {
		return from[start+1 : end]
	}
	return strings.TrimSpace(from)
}

func subjectOf(e capability.Email) string {
	if e.Subject == "" {
		return "No subject"
	}
	return e.Subject
}

func relativeDate(t, now time.Time, loc *time.Location) string {
	t, now = t.In(loc), now.In(loc)
	days := int(startOfDay(now).Sub(startOfDay(t)).Hours() / 24)
	switch {
	case days <= 0:
		return "Today at " + t.Format("3:04 PM")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return t.Format("Monday")
	default:
		return t.Format("January 2")
	}
}

func formatEmailList(emails []capability.Email) string {
	lines := make([]string, len(emails))
	for i, e := range emails {
		lines[i] = fmt.Sprintf("%d. From %s: %q", i+1, senderName(e.From), subjectOf(e))
	}
	return strings.Join(lines, "\n")
}

func formatEmailForSpeech(e capability.Email, now time.Time, loc *time.Location) string {
	out := fmt.Sprintf("From %s: %q", senderName(e.From), subjectOf(e))
	if !e.Date.IsZero() {
		out += " - " + relativeDate(e.Date, now, loc)
	}
	body := strings.TrimSpace(whitespaceRun.ReplaceAllString(e.Body, " "))
	if body != "" {
		out += "\n\nMessage: " + shorten(body, emailBodyLimit)
	}
	return out
}

// shorten cuts s to limit runes, appending "..." when it did.
func shorten(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
