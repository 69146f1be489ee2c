package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sourcer/internal/app/di"
	"sourcer/internal/domain/agent/turn"
	"sourcer/internal/shared/jsonx"
)

func (c *cli) newTurnCommand() *cobra.Command {
	var (
		persistUser bool
		lang        string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "turn [message]",
		Short: "Run one chat turn and print the reply with its cards",
		Long:  "Run one chat turn. The message comes from the arguments, or from stdin when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			chatID, err := requireFlag(cmd, "chat")
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				text, err = readStdin()
				if err != nil {
					return err
				}
			}
			if text == "" {
				return errors.New("empty message")
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				res := ct.Controller.RunTurn(cmd.Context(), turn.Input{
					ProjectID:          projectID,
					ChatID:             chatID,
					Text:               text,
					Lang:               lang,
					PersistUserMessage: persistUser,
				})
				if asJSON {
					return writeJSON(cmd, res)
				}
				newRenderer(cmd.OutOrStdout()).Result(res)
				return nil
			})
		},
	}
	cmd.Flags().String("project", "", "project id")
	cmd.Flags().String("chat", "", "chat id")
	cmd.Flags().BoolVar(&persistUser, "persist-user", true, "append the user message to the chat log first")
	cmd.Flags().StringVar(&lang, "lang", "", "reply language (zh or en); detected when empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw turn result as JSON")
	return cmd
}

func (c *cli) newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(&cobra.Command{
		Use:   "create [title]",
		Short: "Create a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := "Untitled"
			if len(args) == 1 {
				title = args[0]
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				p, err := ct.Backend.CreateProject(cmd.Context(), title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle("project"), p.ID)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) newChatCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Manage chats"}
	create := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a chat inside a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			title := "New chat"
			if len(args) == 1 {
				title = args[0]
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				chat, err := ct.Backend.CreateChat(cmd.Context(), projectID, title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle("chat"), chat.ID)
				return nil
			})
		},
	}
	create.Flags().String("project", "", "project id")
	cmd.AddCommand(create)
	return cmd
}

func (c *cli) newConsentCommand() *cobra.Command {
	var autoConfirm bool
	cmd := &cobra.Command{
		Use:       "consent <grant|revoke|show>",
		Short:     "Grant, revoke or show network consent for a project",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"grant", "revoke", "show"},
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				ctx := cmd.Context()
				switch args[0] {
				case "grant":
					if _, err := ct.Backend.SetConsent(ctx, projectID, true, autoConfirm); err != nil {
						return err
					}
				case "revoke":
					if _, err := ct.Backend.SetConsent(ctx, projectID, false, false); err != nil {
						return err
					}
				case "show":
				default:
					return fmt.Errorf("unknown consent action %q", args[0])
				}
				consent, err := ct.Backend.GetConsent(ctx, projectID)
				if err != nil {
					return err
				}
				state := warnStyle("not granted")
				if consent.Consented {
					state = okStyle("granted")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "consent for %s: %s (auto-confirm %t)\n", projectID, state, consent.AutoConfirm)
				return nil
			})
		},
	}
	cmd.Flags().String("project", "", "project id")
	cmd.Flags().BoolVar(&autoConfirm, "auto-confirm", false, "skip per-turn confirmation after granting")
	return cmd
}

func (c *cli) newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "think <on|off|show>",
		Short: "Toggle the planning pass for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				ctx := cmd.Context()
				switch args[0] {
				case "on", "off":
					if _, err := ct.Backend.SetSettings(ctx, projectID, args[0] == "on"); err != nil {
						return err
					}
				case "show":
				default:
					return fmt.Errorf("expected on, off or show, got %q", args[0])
				}
				s, err := ct.Backend.GetSettings(ctx, projectID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "think for %s: %t\n", projectID, s.ThinkEnabled)
				return nil
			})
		},
	}
	cmd.Flags().String("project", "", "project id")
	return cmd
}

func (c *cli) newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the messages of a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := requireFlag(cmd, "project")
			if err != nil {
				return err
			}
			chatID, err := requireFlag(cmd, "chat")
			if err != nil {
				return err
			}
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				msgs, err := ct.Backend.ListMessages(cmd.Context(), projectID, chatID)
				if err != nil {
					return err
				}
				newRenderer(cmd.OutOrStdout()).History(msgs)
				return nil
			})
		},
	}
	cmd.Flags().String("project", "", "project id")
	cmd.Flags().String("chat", "", "chat id")
	return cmd
}

func (c *cli) newFeedbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pick <url>",
		Short: "Record that a candidate was used, feeding the preference profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			return c.withContainer(cmd.Context(), func(ct *di.Container) error {
				if ct.Store == nil {
					return errors.New("selections are recorded by the embedded store; the toolserver keeps its own profile")
				}
				if err := ct.Store.RecordSelection(cmd.Context(), kind, args[0]); err != nil {
					return err
				}
				summary, err := ct.Store.Summary(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", okStyle("recorded"), dimStyle(summary))
				return nil
			})
		},
	}
	cmd.Flags().String("kind", "video", "asset kind of the pick")
	return cmd
}

func (c *cli) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := c.loadConfig()
			if err != nil {
				return err
			}
			cfg.LLM.APIKey = mask(cfg.LLM.APIKey)
			cfg.Search.TavilyAPIKey = mask(cfg.Search.TavilyAPIKey)
			if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", dimStyle("# from"), path)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

func mask(secret string) string {
	if len(secret) <= 6 {
		if secret == "" {
			return ""
		}
		return "***"
	}
	return secret[:3] + "***" + secret[len(secret)-2:]
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	var b strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), scanner.Err()
}
