package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"granny-companion/internal/capability"
)

// ConnectTimeout bounds the account connect tool; the browser consent flow
// itself gives up after five minutes.
const ConnectTimeout = 5*time.Minute + 30*time.Second

const (
	defaultEventResults = 10
	defaultEmailResults = 5
	inboxWindow         = 10
)

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date and time %q", s)
}

func calendarTools(d Deps) []Tool {
	dayEvents := func(ctx context.Context, day time.Time) (string, error) {
		from := startOfDay(day.In(d.loc()))
		to := from.AddDate(0, 0, 1)
		name := formatDay(from, d.loc())

		events, err := d.Calendar.EventsBetween(ctx, from, to)
		if err != nil {
			return "I had trouble accessing your calendar. Please make sure your Google account is connected.", err
		}
		if len(events) == 0 {
			return fmt.Sprintf("You have no events scheduled for %s. It's a free day!", name), nil
		}
		return fmt.Sprintf("Here's your schedule for %s:\n%s", name, formatDaySchedule(events, d.loc())), nil
	}

	return []Tool{
		{
			Name:         "get_upcoming_events",
			Description:  "Get the user's upcoming calendar events for the next week.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "maxResults", Type: TypeInteger, Description: "Maximum number of events (default: 10)"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				events, err := d.Calendar.UpcomingEvents(ctx, args.Int("maxResults", defaultEventResults))
				if err != nil {
					return "I had trouble accessing your calendar. Please make sure your Google account is connected.", err
				}
				if len(events) == 0 {
					return "You have no upcoming events in the next week. Your calendar is clear!", nil
				}
				return "Here are your upcoming events:\n" + formatEventList(events, d.loc()), nil
			},
		},
		{
			Name:         "get_today_agenda",
			Description:  "Get today's schedule.",
			RequiresAuth: true,
			Handler: func(ctx context.Context, args Args) (string, error) {
				return dayEvents(ctx, d.now())
			},
		},
		{
			Name:         "get_tomorrow_agenda",
			Description:  "Get tomorrow's schedule.",
			RequiresAuth: true,
			Handler: func(ctx context.Context, args Args) (string, error) {
				return dayEvents(ctx, d.now().In(d.loc()).AddDate(0, 0, 1))
			},
		},
		{
			Name:         "get_events_for_day",
			Description:  "Get events for a specific day.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "date", Type: TypeString, Description: "Day in YYYY-MM-DD format (default: today)"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				day := d.now()
				if s := args.String("date"); s != "" {
					parsed, err := time.ParseInLocation("2006-01-02", s, d.loc())
					if err != nil {
						return fmt.Sprintf("I didn't understand the date %q. Could you say it another way?", s), err
					}
					day = parsed
				}
				return dayEvents(ctx, day)
			},
		},
		{
			Name:         "create_calendar_event",
			Description:  "Add an event to the user's calendar.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "title", Type: TypeString, Description: "Event title", Required: true},
				{Name: "startDateTime", Type: TypeString, Description: "Start in ISO 8601 format", Required: true},
				{Name: "endDateTime", Type: TypeString, Description: "End in ISO 8601 format (default: one hour after start)"},
				{Name: "location", Type: TypeString, Description: "Where the event takes place"},
				{Name: "description", Type: TypeString, Description: "Notes for the event"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				start, err := parseDateTime(args.String("startDateTime"), d.loc())
				if err != nil {
					return "I didn't understand when that event starts. Could you tell me the date and time again?", err
				}
				end := start.Add(time.Hour)
				if s := args.String("endDateTime"); s != "" {
					if end, err = parseDateTime(s, d.loc()); err != nil {
						return "I didn't understand when that event ends. Could you tell me again?", err
					}
				}

				title := args.String("title")
				created, err := d.Calendar.CreateEvent(ctx, capability.NewEvent{
					Title:       title,
					Start:       start,
					End:         end,
					Location:    args.String("location"),
					Description: args.String("description"),
				})
				if err != nil {
					return "I had trouble creating that event. Please try again or check your Google account connection.", err
				}
				when := start
				if !created.Start.IsZero() {
					when = created.Start
				}
				return fmt.Sprintf("I've added %q to your calendar for %s. Is there anything else you'd like me to do?", title, formatDateTime(when, d.loc())), nil
			},
		},
		{
			Name:         "search_calendar_events",
			Description:  "Search the next 30 days of the calendar.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "query", Type: TypeString, Description: "Text to search for", Required: true},
				{Name: "maxResults", Type: TypeInteger, Description: "Maximum number of results (default: 10)"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				q := args.String("query")
				events, err := d.Calendar.SearchEvents(ctx, q, args.Int("maxResults", defaultEventResults))
				if err != nil {
					return "I had trouble searching your calendar. Please make sure your Google account is connected.", err
				}
				if len(events) == 0 {
					return fmt.Sprintf("I couldn't find any events matching %q in the next 30 days.", q), nil
				}
				return fmt.Sprintf("I found these events matching %q:\n%s", q, formatEventList(events, d.loc())), nil
			},
		},
	}
}

func mailTools(d Deps) []Tool {
	searchEmails := func(ctx context.Context, query string, max int) (string, error) {
		emails, err := d.Mail.SearchEmails(ctx, query, max)
		if err != nil {
			return "I had trouble searching your emails. Please try again.", err
		}
		if len(emails) == 0 {
			return fmt.Sprintf("I couldn't find any emails matching %q.", query), nil
		}
		return fmt.Sprintf("I found %s matching %q:\n%s", plural(len(emails), "email"), query, formatEmailList(emails)), nil
	}

	// inboxEntry resolves a 1-based position in the ten most recent inbox messages.
	inboxEntry := func(ctx context.Context, index int) (capability.Email, int, error) {
		emails, err := d.Mail.RecentEmails(ctx, inboxWindow, false)
		if err != nil {
			return capability.Email{}, 0, err
		}
		if index < 1 || index > len(emails) {
			return capability.Email{}, len(emails), capability.ErrNotFound
		}
		return emails[index-1], len(emails), nil
	}

	return []Tool{
		{
			Name:         "get_recent_emails",
			Description:  "Get the most recent emails in the inbox.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "maxResults", Type: TypeInteger, Description: "Maximum number of emails (default: 5)"},
				{Name: "unreadOnly", Type: TypeBoolean, Description: "Only unread emails"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				unread := args.Bool("unreadOnly", false)
				emails, err := d.Mail.RecentEmails(ctx, args.Int("maxResults", defaultEmailResults), unread)
				if err != nil {
					return "I had trouble accessing your emails. Please make sure your Google account is connected.", err
				}
				if len(emails) == 0 {
					if unread {
						return "Great news! You have no unread emails. Your inbox is all caught up!", nil
					}
					return "Your inbox is empty. No emails to show.", nil
				}
				prefix := fmt.Sprintf("Here are your %d most recent emails", len(emails))
				if unread {
					prefix = fmt.Sprintf("You have %s", plural(len(emails), "unread email"))
				}
				return prefix + ":\n" + formatEmailList(emails), nil
			},
		},
		{
			Name:         "get_unread_count",
			Description:  "Count unread emails in the inbox.",
			RequiresAuth: true,
			Handler: func(ctx context.Context, args Args) (string, error) {
				n, err := d.Mail.UnreadCount(ctx)
				if err != nil {
					return "I had trouble checking your emails. Please make sure your Google account is connected.", err
				}
				if n == 0 {
					return "You have no unread emails. Your inbox is all caught up!", nil
				}
				return fmt.Sprintf("You have %s.", plural(n, "unread email")), nil
			},
		},
		{
			Name:         "read_email",
			Description:  "Read one of the recent emails aloud, by its number in the list.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "emailIndex", Type: TypeInteger, Description: "Position in the recent email list, starting at 1", Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				entry, total, err := inboxEntry(ctx, args.Int("emailIndex", 0))
				switch {
				case errors.Is(err, capability.ErrNotFound) && total == 0:
					return "Your inbox is empty.", nil
				case errors.Is(err, capability.ErrNotFound):
					return fmt.Sprintf("I can only read emails 1 through %d. Which one would you like me to read?", total), nil
				case err != nil:
					return "I had trouble reading that email. Please try again.", err
				}

				full, err := d.Mail.GetEmail(ctx, entry.ID)
				if err != nil {
					return "I had trouble reading that email. Please try again.", err
				}
				return formatEmailForSpeech(full, d.now(), d.loc()), nil
			},
		},
		{
			Name:         "search_emails",
			Description:  "Search emails with a Gmail query.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "query", Type: TypeString, Description: "Search text", Required: true},
				{Name: "maxResults", Type: TypeInteger, Description: "Maximum number of results (default: 5)"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				return searchEmails(ctx, args.String("query"), args.Int("maxResults", defaultEmailResults))
			},
		},
		{
			Name:         "send_email",
			Description:  "Send a new email.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "to", Type: TypeString, Description: "Recipient email address", Required: true},
				{Name: "subject", Type: TypeString, Description: "Subject line", Required: true},
				{Name: "body", Type: TypeString, Description: "Message text", Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				to, subject := args.String("to"), args.String("subject")
				err := d.Mail.Send(ctx, capability.OutgoingEmail{To: to, Subject: subject, Body: args.String("body")})
				if err != nil {
					return "I had trouble sending that email. Please check the email address and try again.", err
				}
				return fmt.Sprintf("I've sent your email to %s with the subject %q.", to, subject), nil
			},
		},
		{
			Name:         "reply_to_email",
			Description:  "Reply to one of the recent emails, by its number in the list.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "emailIndex", Type: TypeInteger, Description: "Position in the recent email list, starting at 1", Required: true},
				{Name: "replyBody", Type: TypeString, Description: "The reply text", Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				entry, _, err := inboxEntry(ctx, args.Int("emailIndex", 0))
				if errors.Is(err, capability.ErrNotFound) {
					return "I couldn't find that email to reply to.", nil
				}
				if err != nil {
					return "I had trouble sending that reply. Please try again.", err
				}

				subject := entry.Subject
				if !strings.HasPrefix(strings.ToLower(subject), "re:") {
					subject = "Re: " + subject
				}
				err = d.Mail.Send(ctx, capability.OutgoingEmail{
					To:        senderAddress(entry.From),
					Subject:   subject,
					Body:      args.String("replyBody"),
					InReplyTo: entry.MessageID,
					ThreadID:  entry.ThreadID,
				})
				if err != nil {
					return "I had trouble sending that reply. Please try again.", err
				}
				return fmt.Sprintf("I've sent your reply to %s.", senderName(entry.From)), nil
			},
		},
		{
			Name:         "get_emails_from_sender",
			Description:  "Get emails from a specific person.",
			RequiresAuth: true,
			Params: []Param{
				{Name: "senderName", Type: TypeString, Description: "Name or email of the sender", Required: true},
				{Name: "maxResults", Type: TypeInteger, Description: "Maximum number of results (default: 5)"},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				return searchEmails(ctx, "from:"+args.String("senderName"), args.Int("maxResults", defaultEmailResults))
			},
		},
	}
}

func accountTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "connect_google_account",
			Description: "Connect the user's Google account so calendar and email work.",
			Timeout:     ConnectTimeout,
			Handler: func(ctx context.Context, args Args) (string, error) {
				if d.Account.IsAuthenticated() {
					return "Your Google account is already connected.", nil
				}
				if err := d.Account.Connect(ctx); err != nil {
					return "I had trouble connecting your Google account. Please try again.", err
				}
				return "Great! Your Google account is now connected. You can now use calendar and email features.", nil
			},
		},
		{
			Name:        "check_google_connection",
			Description: "Check whether the Google account is connected.",
			Handler: func(ctx context.Context, args Args) (string, error) {
				if d.Account.IsAuthenticated() {
					return "Your Google account is connected and ready to use.", nil
				}
				return "Your Google account is not connected. Would you like me to help you connect it?", nil
			},
		},
	}
}
