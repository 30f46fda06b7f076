package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"granny-companion/internal/capability"
)

type screenCtxKey struct{}

// WithScreenContext attaches the session's cached screen description to ctx.
func WithScreenContext(ctx context.Context, description string) context.Context {
	return context.WithValue(ctx, screenCtxKey{}, description)
}

// ScreenContext returns the cached screen description carried by ctx.
func ScreenContext(ctx context.Context) string {
	s, _ := ctx.Value(screenCtxKey{}).(string)
	return s
}

// Deps are the providers the catalog's handlers call. Nil providers leave
// their tools out of the catalog.
type Deps struct {
	Screen     capability.ScreenReader
	Highlight  capability.Highlighter
	System     capability.System
	Calendar   capability.Calendar
	Mail       capability.Mailbox
	Account    capability.Account
	Store      capability.MemoryStore
	AllowShell bool

	// Now and Location default to time.Now and time.Local.
	Now      func() time.Time
	Location *time.Location
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) loc() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

// Catalog builds every tool whose provider is present.
func Catalog(d Deps) []Tool {
	var out []Tool
	if d.Screen != nil {
		out = append(out, viewScreen(d))
		if d.Highlight != nil {
			out = append(out, findAndHighlight(d))
		}
	}
	if d.Highlight != nil {
		out = append(out, clearHighlight(d))
	}
	if d.System != nil {
		out = append(out, launchApp(d), systemCommand(d))
	}
	if d.Store != nil {
		out = append(out, relationshipNudge(d))
	}
	if d.Calendar != nil {
		out = append(out, calendarTools(d)...)
	}
	if d.Mail != nil {
		out = append(out, mailTools(d)...)
	}
	if d.Account != nil {
		out = append(out, accountTools(d)...)
	}
	return out
}

// NewDefault returns a registry holding the full catalog for d.
func NewDefault(d Deps, opts ...Option) (*Registry, error) {
	if d.Account != nil {
		opts = append([]Option{WithAccount(d.Account)}, opts...)
	}
	r := NewRegistry(opts...)
	if err := r.Register(Catalog(d)...); err != nil {
		return nil, err
	}
	return r, nil
}

func viewScreen(d Deps) Tool {
	return Tool{
		Name:        "view_screen",
		Description: "Look at the user's screen. Pass a question to analyze something specific.",
		Params: []Param{
			{Name: "question", Type: TypeString, Description: "What to look for on the screen"},
		},
		Handler: func(ctx context.Context, args Args) (string, error) {
			const apology = "Unable to analyze screen at this moment."

			if q := args.String("question"); q != "" {
				desc, err := d.Screen.Analyze(ctx, q)
				if err != nil {
					return apology, err
				}
				return desc, nil
			}
			if cached := ScreenContext(ctx); cached != "" {
				return cached, nil
			}
			desc, err := d.Screen.CaptureAndDescribe(ctx)
			if err != nil {
				return apology, err
			}
			return desc, nil
		},
	}
}

func findAndHighlight(d Deps) Tool {
	return Tool{
		Name:        "find_and_highlight",
		Description: "Find a button, link or other element on screen and draw a box around it.",
		Params: []Param{
			{Name: "element", Type: TypeString, Description: "Description of the element to find", Required: true},
		},
		Handler: func(ctx context.Context, args Args) (string, error) {
			element := args.String("element")
			loc, err := d.Screen.Locate(ctx, element)
			if err != nil {
				return fmt.Sprintf("Could not find %q on the screen right now.", element), err
			}
			if !loc.Found {
				return strings.TrimSpace(fmt.Sprintf("Could not find %q on the screen. %s", element, loc.Description)), nil
			}

			d.Highlight.Show(capability.HighlightRequest{
				Box:         loc.Box,
				Label:       element,
				Instruction: loc.Description,
			})
			return fmt.Sprintf("Found and highlighted %q. Look for the highlighted box on your screen.", element), nil
		},
	}
}

func clearHighlight(d Deps) Tool {
	return Tool{
		Name:        "clear_highlight",
		Description: "Remove the highlight box from the screen.",
		Handler: func(ctx context.Context, args Args) (string, error) {
			d.Highlight.Clear()
			return "Highlight cleared.", nil
		},
	}
}

func launchApp(d Deps) Tool {
	return Tool{
		Name:        "launch_app",
		Description: "Open an application by name, for example Safari or Mail.",
		Params: []Param{
			{Name: "app", Type: TypeString, Description: "Application name", Required: true},
		},
		Handler: func(ctx context.Context, args Args) (string, error) {
			app := args.String("app")
			if err := d.System.Launch(ctx, app); err != nil {
				return fmt.Sprintf("Failed to launch %s: %v", app, err), err
			}
			return fmt.Sprintf("Launched %s.", app), nil
		},
	}
}

func systemCommand(d Deps) Tool {
	return Tool{
		Name:        "system_command",
		Description: "Run a shell command on the computer and return its output.",
		Params: []Param{
			{Name: "command", Type: TypeString, Description: "Shell command to run", Required: true},
		},
		Handler: func(ctx context.Context, args Args) (string, error) {
			if !d.AllowShell {
				return "Running commands is turned off on this computer.", nil
			}
			out, err := d.System.Execute(ctx, args.String("command"))
			if err != nil {
				return fmt.Sprintf("Failed to execute command: %v", err), err
			}
			if strings.TrimSpace(out) == "" {
				return "Command executed.", nil
			}
			return out, nil
		},
	}
}

func relationshipNudge(d Deps) Tool {
	return Tool{
		Name:        "trigger_relationship_nudge",
		Description: "Send an alert or update to the user's grandson about something worth knowing.",
		Params: []Param{
			{Name: "type", Type: TypeString, Description: "alert or update", Required: true, Enum: []string{string(capability.NudgeAlert), string(capability.NudgeUpdate)}},
			{Name: "title", Type: TypeString, Description: "Short headline", Required: true},
			{Name: "message", Type: TypeString, Description: "What happened", Required: true},
			{Name: "context", Type: TypeString, Description: "Extra background"},
		},
		Handler: func(ctx context.Context, args Args) (string, error) {
			err := d.Store.SendNudge(ctx, capability.Nudge{
				Type:    capability.NudgeType(args.String("type")),
				Title:   args.String("title"),
				Message: args.String("message"),
				Context: args.String("context"),
				Status:  capability.NudgeStatusPending,
			})
			if err != nil {
				return "Failed to send notification.", err
			}
			return "Notification sent successfully to your grandson.", nil
		},
	}
}
