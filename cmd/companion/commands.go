package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"granny-companion/internal/capability"
	"granny-companion/internal/google"
	"granny-companion/internal/observability"
	"granny-companion/internal/store"
	"granny-companion/internal/system"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Connect a Google account for calendar and email",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			auth := google.NewAuth(
				cfg.GoogleClientID,
				cfg.GoogleClientSecret,
				cfg.GoogleRedirectPort,
				google.NewTokenStore(cfg.GoogleTokenPath),
				system.New(nil).OpenURL,
			)
			if auth.IsAuthenticated() {
				fmt.Println(color.GreenString("Already connected."), "Run 'companion logout' first to switch accounts.")
				return nil
			}

			fmt.Println("Opening your browser to connect Google. Waiting for you to finish...")
			if err := auth.Connect(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(color.GreenString("Google account connected."))
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the connected Google account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := google.NewTokenStore(cfg.GoogleTokenPath).Remove(); err != nil {
				return err
			}
			fmt.Println("Google account disconnected.")
			return nil
		},
	}
}

func memoriesCmd() *cobra.Command {
	var (
		role   string
		limit  int
		nudges bool
	)
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "Show the most recent memories and pending nudges",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			st, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			if role == "" {
				role = cfg.UserRole
			}

			if nudges {
				pending, err := st.PendingNudges(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printNudges(pending)
				return nil
			}

			memories, err := st.RecentMemories(cmd.Context(), capability.Role(role), limit)
			if err != nil {
				return err
			}
			printMemories(role, memories)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Whose memories to show (default from COMPANION_USER_ROLE)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Max results")
	cmd.Flags().BoolVar(&nudges, "nudges", false, "Show pending nudges instead")
	return cmd
}

func categoryColor(c capability.MemoryCategory) func(format string, a ...interface{}) string {
	switch c {
	case capability.CategoryMilestone:
		return color.GreenString
	case capability.CategoryHealth:
		return color.RedString
	case capability.CategoryStruggle:
		return color.YellowString
	default:
		return color.CyanString
	}
}

func printMemories(role string, memories []capability.Memory) {
	if len(memories) == 0 {
		fmt.Println("No memories yet")
		return
	}

	fmt.Println(color.CyanString("Memories for %s", role))
	for _, m := range memories {
		when := color.HiBlackString(m.CreatedAt.Local().Format("Jan 2 15:04"))
		tag := categoryColor(m.Category)("[%s]", m.Category)
		fmt.Printf("  %s %s %s\n", when, tag, m.Content)
	}
}

func printNudges(nudges []capability.Nudge) {
	if len(nudges) == 0 {
		fmt.Println("No pending nudges")
		return
	}

	fmt.Println(color.CyanString("Pending nudges"))
	for _, n := range nudges {
		marker := color.CyanString("•")
		if n.Type == capability.NudgeAlert {
			marker = color.RedString("!")
		}
		fmt.Printf("  %s %s %s\n", marker, color.HiBlackString(n.CreatedAt.Local().Format("Jan 2 15:04")), n.Title)
		fmt.Printf("    %s\n", n.Message)
		if ctx := strings.TrimSpace(n.Context); ctx != "" {
			fmt.Printf("    %s\n", color.HiBlackString(ctx))
		}
	}
}

// toolsCmd prints the client tool definitions to paste into the agent's
// configuration.
func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the client tool definitions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := buildApp(cmd.Context(), cfg, observability.Logger())
			if err != nil {
				return err
			}
			defer func() {
				a.controller.Shutdown(cmd.Context())
				a.close()
			}()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(a.registry.Definitions())
		},
	}
}
