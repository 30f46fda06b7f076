package tools

import (
	"context"
	"sync"
	"time"

	"granny-companion/internal/capability"
)

type fakeScreen struct {
	mu          sync.Mutex
	description string
	answer      string
	location    capability.Location
	err         error
	captures    int
	questions   []string
}

func (f *fakeScreen) CaptureAndDescribe(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return f.description, f.err
}

func (f *fakeScreen) Analyze(ctx context.Context, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	return f.answer, f.err
}

func (f *fakeScreen) Locate(ctx context.Context, description string) (capability.Location, error) {
	return f.location, f.err
}

type fakeHighlighter struct {
	mu      sync.Mutex
	shown   []capability.HighlightRequest
	cleared int
}

func (f *fakeHighlighter) Show(req capability.HighlightRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, req)
}

func (f *fakeHighlighter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

type fakeAccount struct {
	authed     bool
	connectErr error
	connects   int
}

func (f *fakeAccount) IsAuthenticated() bool { return f.authed }

func (f *fakeAccount) Connect(ctx context.Context) error {
	f.connects++
	if f.connectErr == nil {
		f.authed = true
	}
	return f.connectErr
}

func (f *fakeAccount) SignOut() error {
	f.authed = false
	return nil
}

// fakeCalendar counts every call so tests can assert no traffic happened.
type fakeCalendar struct {
	mu      sync.Mutex
	calls   int
	events  []capability.Event
	created []capability.NewEvent
	from    time.Time
	to      time.Time
	err     error
}

func (f *fakeCalendar) record() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeCalendar) UpcomingEvents(ctx context.Context, max int) ([]capability.Event, error) {
	f.record()
	return f.events, f.err
}

func (f *fakeCalendar) EventsBetween(ctx context.Context, from, to time.Time) ([]capability.Event, error) {
	f.record()
	f.from, f.to = from, to
	return f.events, f.err
}

func (f *fakeCalendar) SearchEvents(ctx context.Context, query string, max int) ([]capability.Event, error) {
	f.record()
	return f.events, f.err
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, ev capability.NewEvent) (capability.Event, error) {
	f.record()
	f.created = append(f.created, ev)
	return capability.Event{Summary: ev.Title, Start: ev.Start, End: ev.End}, f.err
}

type fakeMailbox struct {
	mu      sync.Mutex
	calls   int
	emails  []capability.Email
	full    map[string]capability.Email
	unread  int
	sent    []capability.OutgoingEmail
	queries []string
	err     error
}

func (f *fakeMailbox) record() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeMailbox) RecentEmails(ctx context.Context, max int, unreadOnly bool) ([]capability.Email, error) {
	f.record()
	if len(f.emails) > max {
		return f.emails[:max], f.err
	}
	return f.emails, f.err
}

func (f *fakeMailbox) UnreadCount(ctx context.Context) (int, error) {
	f.record()
	return f.unread, f.err
}

func (f *fakeMailbox) SearchEmails(ctx context.Context, query string, max int) ([]capability.Email, error) {
	f.record()
	f.queries = append(f.queries, query)
	return f.emails, f.err
}

func (f *fakeMailbox) GetEmail(ctx context.Context, id string) (capability.Email, error) {
	f.record()
	return f.full[id], f.err
}

func (f *fakeMailbox) Send(ctx context.Context, msg capability.OutgoingEmail) error {
	f.record()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeSystem struct {
	launched []string
	output   string
	err      error
}

func (f *fakeSystem) Launch(ctx context.Context, app string) error {
	f.launched = append(f.launched, app)
	return f.err
}

func (f *fakeSystem) Execute(ctx context.Context, command string) (string, error) {
	return f.output, f.err
}

type fakeStore struct {
	nudges []capability.Nudge
	err    error
}

func (f *fakeStore) SaveMemory(ctx context.Context, m capability.Memory) error { return f.err }

func (f *fakeStore) RecentMemories(ctx context.Context, role capability.Role, limit int) ([]capability.Memory, error) {
	return nil, f.err
}

func (f *fakeStore) SendNudge(ctx context.Context, n capability.Nudge) error {
	f.nudges = append(f.nudges, n)
	return f.err
}
