package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"granny-companion/internal/capability"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const me = "me"

var metadataHeaders = []string{"From", "To", "Subject", "Date", "Message-ID"}

// Mailbox implements capability.Mailbox on the user's Gmail account.
type Mailbox struct {
	auth *Auth
	opts []option.ClientOption
}

func NewMailbox(auth *Auth, opts ...option.ClientOption) *Mailbox {
	return &Mailbox{auth: auth, opts: opts}
}

func (m *Mailbox) service(ctx context.Context) (*gmail.Service, error) {
	hc, err := m.auth.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, m.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return svc, nil
}

func (m *Mailbox) RecentEmails(ctx context.Context, max int, unreadOnly bool) ([]capability.Email, error) {
	q := "in:inbox"
	if unreadOnly {
		q += " is:unread"
	}
	return m.list(ctx, "gmail.recent", q, max)
}

func (m *Mailbox) SearchEmails(ctx context.Context, query string, max int) ([]capability.Email, error) {
	return m.list(ctx, "gmail.search", query, max)
}

func (m *Mailbox) UnreadCount(ctx context.Context) (int, error) {
	svc, err := m.service(ctx)
	if err != nil {
		return 0, err
	}
	label, err := svc.Users.Labels.Get(me, "INBOX").Context(ctx).Do()
	if err != nil {
		return 0, capability.Transient("gmail.unread", err)
	}
	return int(label.MessagesUnread), nil
}

// GetEmail fetches one message with its plain-text body.
func (m *Mailbox) GetEmail(ctx context.Context, id string) (capability.Email, error) {
	svc, err := m.service(ctx)
	if err != nil {
		return capability.Email{}, err
	}
	msg, err := svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return capability.Email{}, capability.ErrNotFound
		}
		return capability.Email{}, capability.Transient("gmail.get", err)
	}
	e := convertMessage(msg)
	e.Body = plainBody(msg.Payload)
	if e.Body == "" {
		e.Body = e.Snippet
	}
	return e, nil
}

// Send delivers msg, threading it when ThreadID is set.
func (m *Mailbox) Send(ctx context.Context, msg capability.OutgoingEmail) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("send email: recipient is required")
	}
	svc, err := m.service(ctx)
	if err != nil {
		return err
	}
	out := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(buildRaw(msg)),
		ThreadId: msg.ThreadID,
	}
	if _, err := svc.Users.Messages.Send(me, out).Context(ctx).Do(); err != nil {
		return capability.Transient("gmail.send", err)
	}
	return nil
}

// list resolves message ids for q, then fetches their headers concurrently
// while keeping the listing order.
func (m *Mailbox) list(ctx context.Context, op, q string, max int) ([]capability.Email, error) {
	svc, err := m.service(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Users.Messages.List(me).Q(q).MaxResults(int64(clampMax(max, 5))).Context(ctx).Do()
	if err != nil {
		return nil, capability.Transient(op, err)
	}

	emails := make([]capability.Email, len(res.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, ref := range res.Messages {
		g.Go(func() error {
			msg, err := svc.Users.Messages.Get(me, ref.Id).
				Format("metadata").
				MetadataHeaders(metadataHeaders...).
				Context(gctx).
				Do()
			if err != nil {
				return err
			}
			emails[i] = convertMessage(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, capability.Transient(op, err)
	}
	return emails, nil
}

func convertMessage(msg *gmail.Message) capability.Email {
	e := capability.Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			e.Unread = true
		}
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				e.From = h.Value
			case "to":
				e.To = h.Value
			case "subject":
				e.Subject = h.Value
			case "message-id":
				e.MessageID = h.Value
			case "date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					e.Date = t
				}
			}
		}
	}
	if e.Date.IsZero() && msg.InternalDate > 0 {
		e.Date = time.UnixMilli(msg.InternalDate)
	}
	if e.Subject == "" {
		e.Subject = "(No subject)"
	}
	return e
}

// plainBody returns the first text/plain part, depth first.
func plainBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body != nil && p.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(p.Body.Data)
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(p.Body.Data)
		}
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	for _, part := range p.Parts {
		if body := plainBody(part); body != "" {
			return body
		}
	}
	return ""
}

func buildRaw(msg capability.OutgoingEmail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	if msg.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", msg.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", msg.InReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
