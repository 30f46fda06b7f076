package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"granny-companion/internal/capability"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func newStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "google", "token.json"))
}

func authedStore(t *testing.T) *TokenStore {
	t.Helper()
	s := newStore(t)
	require.NoError(t, s.Save(&oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))
	return s
}

func TestTokenStore_RoundTripAndRemove(t *testing.T) {
	s := newStore(t)

	_, err := s.Load()
	require.ErrorIs(t, err, capability.ErrNotFound)

	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "r", tok.RefreshToken)

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	_, err = s.Load()
	require.ErrorIs(t, err, capability.ErrNotFound)
}

func TestAuth_IsAuthenticated(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tok  *oauth2.Token
		want bool
	}{
		{"no token", nil, false},
		{"refreshable", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)}, true},
		{"fresh access token", &oauth2.Token{AccessToken: "a", Expiry: now.Add(time.Minute)}, true},
		{"expired access token", &oauth2.Token{AccessToken: "a", Expiry: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			if tt.tok != nil {
				require.NoError(t, s.Save(tt.tok))
			}
			a := NewAuth("id", "secret", 0, s, nil, WithClock(func() time.Time { return now }))
			require.Equal(t, tt.want, a.IsAuthenticated())
		})
	}
}

func TestAuth_ConnectRequiresClientCredentials(t *testing.T) {
	a := NewAuth("", " ", 0, newStore(t), nil)
	err := a.Connect(context.Background())
	require.True(t, capability.IsConfiguration(err))
	require.Contains(t, err.Error(), "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestAuth_ConnectLoopbackFlow(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "consent-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	store := newStore(t)
	var opened string
	browser := func(authURL string) error {
		opened = authURL
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := strings.Replace(q.Get("redirect_uri"), "localhost", "127.0.0.1", 1)
		go func() {
			resp, err := http.Get(redirect + "?code=consent-code&state=" + url.QueryEscape(q.Get("state")))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	a := NewAuth("client-id", "client-secret", freePort(t), store, browser, WithEndpoint(oauth2.Endpoint{
		AuthURL:   "https://accounts.example.com/auth",
		TokenURL:  tokenSrv.URL,
		AuthStyle: oauth2.AuthStyleInParams,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))

	require.Contains(t, opened, "access_type=offline")
	require.Contains(t, opened, "prompt=consent")
	tok, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "new-refresh", tok.RefreshToken)
	require.True(t, a.IsAuthenticated())

	require.NoError(t, a.SignOut())
	require.False(t, a.IsAuthenticated())
}

func TestAuth_ConnectRejectsWrongState(t *testing.T) {
	store := newStore(t)
	var status int32
	browser := func(authURL string) error {
		u, _ := url.Parse(authURL)
		redirect := strings.Replace(u.Query().Get("redirect_uri"), "localhost", "127.0.0.1", 1)
		go func() {
			resp, err := http.Get(redirect + "?code=x&state=forged")
			if err == nil {
				atomic.StoreInt32(&status, int32(resp.StatusCode))
				resp.Body.Close()
			}
		}()
		return nil
	}
	a := NewAuth("id", "secret", freePort(t), store, browser)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, a.Connect(ctx), capability.ErrTimeout)
	require.Equal(t, int32(http.StatusBadRequest), atomic.LoadInt32(&status))

	_, err := store.Load()
	require.ErrorIs(t, err, capability.ErrNotFound)
}

// countingServer fails the test on any request when the caller is signed out.
func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSignedOut_NoNetworkCalls(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {})
	a := NewAuth("id", "secret", 0, newStore(t), nil)
	cal := NewCalendar(a, option.WithEndpoint(srv.URL+"/calendar/v3/"))
	mb := NewMailbox(a, option.WithEndpoint(srv.URL+"/"))
	ctx := context.Background()

	_, err := cal.UpcomingEvents(ctx, 5)
	require.ErrorIs(t, err, capability.ErrAuthRequired)
	_, err = cal.CreateEvent(ctx, capability.NewEvent{Title: "Tea", Start: time.Now()})
	require.ErrorIs(t, err, capability.ErrAuthRequired)
	_, err = mb.UnreadCount(ctx)
	require.ErrorIs(t, err, capability.ErrAuthRequired)
	require.ErrorIs(t, mb.Send(ctx, capability.OutgoingEmail{To: "a@b.c"}), capability.ErrAuthRequired)

	require.Zero(t, atomic.LoadInt32(hits))
}

func TestCalendar_UpcomingEvents(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendar/v3/calendars/primary/events", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		require.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		require.Equal(t, "3", r.URL.Query().Get("maxResults"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[
			{"id":"e1","summary":"Doctor","start":{"dateTime":"2026-03-02T10:00:00Z"},"end":{"dateTime":"2026-03-02T11:00:00Z"}},
			{"id":"e2","start":{"date":"2026-03-03"},"end":{"date":"2026-03-04"}},
			{"id":"e3","status":"cancelled","summary":"Gone"}
		]}`)
	})

	cal := NewCalendar(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/calendar/v3/"))
	events, err := cal.UpcomingEvents(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "Doctor", events[0].Summary)
	require.False(t, events[0].AllDay)
	require.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), events[0].Start.UTC())

	require.Equal(t, "(No title)", events[1].Summary)
	require.True(t, events[1].AllDay)
	require.Equal(t, 3, events[1].Start.Day())
}

func TestCalendar_CreateEventDefaultsToOneHour(t *testing.T) {
	var body struct {
		Summary string `json:"summary"`
		Start   struct {
			DateTime string `json:"dateTime"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
		} `json:"end"`
	}
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"new","summary":"Lunch with Sam","start":{"dateTime":"2026-03-05T12:00:00Z"},"end":{"dateTime":"2026-03-05T13:00:00Z"}}`)
	})

	cal := NewCalendar(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/calendar/v3/"))
	start := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	ev, err := cal.CreateEvent(context.Background(), capability.NewEvent{Title: "Lunch with Sam", Start: start})
	require.NoError(t, err)
	require.Equal(t, "new", ev.ID)

	require.Equal(t, "Lunch with Sam", body.Summary)
	require.Equal(t, "2026-03-05T12:00:00Z", body.Start.DateTime)
	require.Equal(t, "2026-03-05T13:00:00Z", body.End.DateTime)
}

func TestCalendar_ProviderErrorIsTransient(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"backend"}}`, http.StatusServiceUnavailable)
	})
	cal := NewCalendar(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/calendar/v3/"))

	_, err := cal.SearchEvents(context.Background(), "doctor", 5)
	var te *capability.TransientError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "calendar.search", te.Op)
}

func encodeBody(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func gmailServer(t *testing.T, sent *string) *httptest.Server {
	t.Helper()
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/gmail/v1/users/me/messages" && r.Method == http.MethodGet:
			require.Equal(t, "in:inbox is:unread", r.URL.Query().Get("q"))
			io.WriteString(w, `{"messages":[{"id":"m1"},{"id":"m2"}]}`)
		case r.URL.Path == "/gmail/v1/users/me/messages/m1" && r.URL.Query().Get("format") == "metadata":
			io.WriteString(w, `{"id":"m1","threadId":"t1","snippet":"See you Sunday","labelIds":["INBOX","UNREAD"],
				"payload":{"headers":[{"name":"From","value":"Sam <sam@example.com>"},{"name":"Subject","value":"Sunday"},
				{"name":"Message-ID","value":"<abc@mail>"},{"name":"Date","value":"Mon, 02 Mar 2026 09:30:00 +0000"}]}}`)
		case r.URL.Path == "/gmail/v1/users/me/messages/m2":
			io.WriteString(w, `{"id":"m2","threadId":"t2","internalDate":"1772400000000","payload":{"headers":[{"name":"From","value":"bank@example.com"}]}}`)
		case r.URL.Path == "/gmail/v1/users/me/messages/full1":
			io.WriteString(w, `{"id":"full1","threadId":"t9","payload":{"mimeType":"multipart/alternative","headers":[{"name":"Subject","value":"Photos"}],
				"parts":[{"mimeType":"text/html","body":{"data":"`+encodeBody("<p>hi</p>")+`"}},
				{"mimeType":"text/plain","body":{"data":"`+encodeBody("Here are the photos.\n")+`"}}]}}`)
		case r.URL.Path == "/gmail/v1/users/me/messages/missing":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
		case r.URL.Path == "/gmail/v1/users/me/labels/INBOX":
			io.WriteString(w, `{"id":"INBOX","messagesUnread":4}`)
		case r.URL.Path == "/gmail/v1/users/me/messages/send":
			var msg struct {
				Raw      string `json:"raw"`
				ThreadID string `json:"threadId"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			raw, err := base64.URLEncoding.DecodeString(msg.Raw)
			require.NoError(t, err)
			*sent = msg.ThreadID + "|" + string(raw)
			io.WriteString(w, `{"id":"sent1"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	return srv
}

func TestMailbox_RecentEmailsKeepsOrder(t *testing.T) {
	var sent string
	srv := gmailServer(t, &sent)
	mb := NewMailbox(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/"))

	emails, err := mb.RecentEmails(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, emails, 2)

	require.Equal(t, "m1", emails[0].ID)
	require.Equal(t, "Sam <sam@example.com>", emails[0].From)
	require.Equal(t, "<abc@mail>", emails[0].MessageID)
	require.True(t, emails[0].Unread)
	require.Equal(t, 2, emails[0].Date.Day())

	require.Equal(t, "m2", emails[1].ID)
	require.Equal(t, "(No subject)", emails[1].Subject)
	require.False(t, emails[1].Date.IsZero())
}

func TestMailbox_GetEmailAndUnreadCount(t *testing.T) {
	var sent string
	srv := gmailServer(t, &sent)
	mb := NewMailbox(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/"))
	ctx := context.Background()

	e, err := mb.GetEmail(ctx, "full1")
	require.NoError(t, err)
	require.Equal(t, "Photos", e.Subject)
	require.Equal(t, "Here are the photos.", e.Body)

	_, err = mb.GetEmail(ctx, "missing")
	require.ErrorIs(t, err, capability.ErrNotFound)

	n, err := mb.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestMailbox_SendReply(t *testing.T) {
	var sent string
	srv := gmailServer(t, &sent)
	mb := NewMailbox(NewAuth("id", "secret", 0, authedStore(t), nil), option.WithEndpoint(srv.URL+"/"))

	err := mb.Send(context.Background(), capability.OutgoingEmail{
		To:        "sam@example.com",
		Subject:   "Re: Sunday",
		Body:      "Lovely, see you then.",
		InReplyTo: "<abc@mail>",
		ThreadID:  "t1",
	})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(sent, "t1|"))
	require.Contains(t, sent, "To: sam@example.com\r\n")
	require.Contains(t, sent, "In-Reply-To: <abc@mail>\r\n")
	require.Contains(t, sent, "References: <abc@mail>\r\n")
	require.True(t, strings.HasSuffix(sent, "\r\n\r\nLovely, see you then."))

	require.Error(t, mb.Send(context.Background(), capability.OutgoingEmail{To: " "}))
}
