package google

import (
	"context"
	"fmt"
	"time"

	"granny-companion/internal/capability"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// Calendar implements capability.Calendar on the user's primary calendar.
type Calendar struct {
	auth *Auth
	opts []option.ClientOption
	now  func() time.Time
}

// NewCalendar builds a Calendar. opts are appended to every service, which
// lets tests point it at a local endpoint.
func NewCalendar(auth *Auth, opts ...option.ClientOption) *Calendar {
	return &Calendar{auth: auth, opts: opts, now: time.Now}
}

func (c *Calendar) service(ctx context.Context) (*calendar.Service, error) {
	hc, err := c.auth.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, c.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

func (c *Calendar) UpcomingEvents(ctx context.Context, max int) ([]capability.Event, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Events.List(primaryCalendar).
		TimeMin(c.now().Format(time.RFC3339)).
		MaxResults(int64(clampMax(max, 10))).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, capability.Transient("calendar.upcoming", err)
	}
	return convertEvents(res.Items), nil
}

func (c *Calendar) EventsBetween(ctx context.Context, from, to time.Time) ([]capability.Event, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Events.List(primaryCalendar).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, capability.Transient("calendar.between", err)
	}
	return convertEvents(res.Items), nil
}

// SearchEvents runs a free-text query over events from now on.
func (c *Calendar) SearchEvents(ctx context.Context, query string, max int) ([]capability.Event, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Events.List(primaryCalendar).
		Q(query).
		TimeMin(c.now().Format(time.RFC3339)).
		MaxResults(int64(clampMax(max, 10))).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, capability.Transient("calendar.search", err)
	}
	return convertEvents(res.Items), nil
}

// CreateEvent inserts ev. A zero End becomes one hour after Start.
func (c *Calendar) CreateEvent(ctx context.Context, ev capability.NewEvent) (capability.Event, error) {
	if ev.Title == "" || ev.Start.IsZero() {
		return capability.Event{}, fmt.Errorf("create event: title and start are required")
	}
	end := ev.End
	if end.IsZero() || !end.After(ev.Start) {
		end = ev.Start.Add(time.Hour)
	}

	svc, err := c.service(ctx)
	if err != nil {
		return capability.Event{}, err
	}
	created, err := svc.Events.Insert(primaryCalendar, &calendar.Event{
		Summary:     ev.Title,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return capability.Event{}, capability.Transient("calendar.create", err)
	}
	return convertEvent(created), nil
}

func convertEvents(items []*calendar.Event) []capability.Event {
	out := make([]capability.Event, 0, len(items))
	for _, it := range items {
		if it == nil || it.Status == "cancelled" {
			continue
		}
		out = append(out, convertEvent(it))
	}
	return out
}

func convertEvent(it *calendar.Event) capability.Event {
	ev := capability.Event{
		ID:          it.Id,
		Summary:     it.Summary,
		Description: it.Description,
		Location:    it.Location,
	}
	if ev.Summary == "" {
		ev.Summary = "(No title)"
	}
	ev.Start, ev.AllDay = parseEventTime(it.Start)
	ev.End, _ = parseEventTime(it.End)
	return ev
}

// parseEventTime reads either a timed or an all-day boundary. All-day dates
// are taken in local time.
func parseEventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, false
	}
	if t.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", t.Date, time.Local)
		if err != nil {
			return time.Time{}, true
		}
		return parsed, true
	}
	return time.Time{}, false
}

func clampMax(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > 50:
		return 50
	default:
		return n
	}
}
