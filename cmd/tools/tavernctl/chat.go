package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/playback"
)

func (a *app) newGenerator(ctx context.Context) (*ai.Generator, error) {
	if !a.cfg.AI.Enabled() {
		return nil, fmt.Errorf("%s credentials are not configured", a.cfg.AI.Provider)
	}
	chatModel, err := a.cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	opts := a.cfg.AI.GeneratorOptions(a.cfg.Speech.PlainWordLimit)
	opts.Logger = a.logger
	return ai.NewGenerator(ctx, chatModel, opts)
}

func newPersonasCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the persona catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVOICE\tTITLE")
			for _, p := range a.personas.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Voice.ID, p.Title)
			}
			return w.Flush()
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	var skipSpeech bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the text and speech backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var failed bool
			gen, err := a.newGenerator(ctx)
			if err == nil {
				start := time.Now()
				err = gen.Ping(ctx)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "text   %-8s ok (%s)\n", gen.Provider(), time.Since(start).Round(time.Millisecond))
				}
			}
			if err != nil {
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "text   %-8s FAILED: %v\n", a.cfg.AI.Provider, err)
			}

			if !skipSpeech {
				if err := a.pingSpeech(ctx); err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "speech %-8s FAILED: %v\n", "eleven", err)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "speech %-8s ok\n", "eleven")
				}
			}
			if failed {
				return errors.New("one or more backends are unreachable")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipSpeech, "text-only", false, "skip the speech backend")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	var (
		personaID string
		speak     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a persona in the terminal",
		Long:  "Reads one utterance per line from stdin. Type /reset to clear the conversation and /quit to leave.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.persona(personaID)
			if err != nil {
				return err
			}
			gen, err := a.newGenerator(ctx)
			if err != nil {
				return err
			}

			var player *playback.Player
			if speak {
				if player, err = a.newPlayer(event.Discard); err != nil {
					return err
				}
				defer player.Close()
			}

			session := chat.NewSession(gen, chat.Options{Logger: a.logger})
			session.SwitchPersona(p)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Talking to %s, %s.\n", p.Name, p.Title)
			if p.OpeningLine != "" {
				fmt.Fprintf(out, "%s: %s\n", p.Name, p.OpeningLine)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					session.Reset()
					fmt.Fprintln(out, "(conversation cleared)")
					continue
				}

				msg, err := session.Submit(ctx, line)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "%s [%s]: %s\n", p.Name, msg.Emotion, msg.Text)
				if err := session.Err(); err != nil {
					fmt.Fprintf(out, "(backend error: %v)\n", err)
				}
				if player != nil && msg.Speakable() {
					player.Request(ctx, *msg.SpeechText, p.Voice)
					waitIdle(ctx, player)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&personaID, "persona", "p", "gandalf", "persona id")
	cmd.Flags().BoolVar(&speak, "speak", false, "speak replies through the configured audio output")
	return cmd
}

// waitIdle blocks until the player has nothing to synthesize or play.
func waitIdle(ctx context.Context, player *playback.Player) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for player.State() != playback.StateIdle {
		select {
		case <-ctx.Done():
			player.Stop()
			return
		case <-ticker.C:
		}
	}
}
