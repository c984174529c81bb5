package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/playback"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/speech"
)

func (a *app) speechClient() (*speech.Client, error) {
	if !a.cfg.Speech.Enabled() {
		return nil, errors.New("ELEVENLABS_API_KEY is not configured")
	}
	return speech.NewClient(speech.ClientConfig{
		APIKey:  a.cfg.Speech.APIKey,
		BaseURL: a.cfg.Speech.BaseURL,
		ModelID: a.cfg.Speech.ModelID,
		Timeout: a.cfg.Speech.Timeout,
	}, a.logger), nil
}

func (a *app) newOutput() (audio.Output, error) {
	if a.cfg.Audio.Output != config.OutputCommand {
		return audio.NewTimedOutput(), nil
	}
	name, args, err := audio.ParseCommand(a.cfg.Audio.PlayerCmd)
	if err != nil {
		return nil, err
	}
	return audio.NewCommandOutput(name, args)
}

func (a *app) newPlayer(pub event.Publisher) (*playback.Player, error) {
	client, err := a.speechClient()
	if err != nil {
		return nil, err
	}
	out, err := a.newOutput()
	if err != nil {
		return nil, err
	}
	synth := speech.NewSynthesizer(client, speech.Options{Timeout: a.cfg.Speech.Timeout, Logger: a.logger})
	return playback.NewPlayer(synth, out, playback.Options{
		Limit:     a.cfg.Speech.CharacterLimit,
		WarnRatio: a.cfg.Speech.WarnRatio,
		Usage:     client,
		Events:    pub,
		Logger:    a.logger,
	}), nil
}

func (a *app) pingSpeech(ctx context.Context) error {
	client, err := a.speechClient()
	if err != nil {
		return err
	}
	_, err = client.Voices(ctx)
	return err
}

func newVoicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the speech account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.speechClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			voices, err := client.Voices(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tLABELS")
			for _, v := range voices {
				labels := make([]string, 0, len(v.Labels))
				for k, val := range v.Labels {
					labels = append(labels, k+"="+val)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Category, strings.Join(labels, ","))
			}
			return w.Flush()
		},
	}
}

func newUsageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show character usage for the current billing period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.speechClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			usage, err := client.Usage(ctx)
			if err != nil {
				return err
			}
			ratio := playback.Usage{Used: usage.Used, Limit: usage.Limit}.Ratio()
			fmt.Fprintf(cmd.OutOrStdout(), "%d / %d characters (%.1f%%)\n", usage.Used, usage.Limit, ratio*100)
			if ratio >= a.cfg.Speech.WarnRatio {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: approaching the character limit")
			}
			if usage.ResetUnix > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "resets %s\n", time.Unix(usage.ResetUnix, 0).Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newSayCmd(a *app) *cobra.Command {
	var (
		personaID string
		voiceID   string
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "say [text]",
		Short: "Synthesize text in a persona's voice",
		Long:  "Synthesizes the text, or the standard test sentence when none is given, and plays it or writes the MP3 to --out.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := speech.TestSentence
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				text = args[0]
			}

			p, err := a.persona(personaID)
			if err != nil {
				return err
			}
			voice := p.Voice
			if voiceID != "" {
				voice = persona.Voice{ID: voiceID, Settings: p.Voice.Settings}
			}

			if outPath != "" {
				client, err := a.speechClient()
				if err != nil {
					return err
				}
				data, err := client.Synthesize(cmd.Context(), text, voice)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write audio: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), outPath)
				return nil
			}

			var played atomic.Bool
			bus := event.NewBus()
			bus.Subscribe(func(ev event.Event) {
				if ev.Data["state"] == string(playback.StatePlaying) {
					played.Store(true)
				}
			}, event.TypeSpeechState)

			player, err := a.newPlayer(bus)
			if err != nil {
				return err
			}
			defer player.Close()

			start := time.Now()
			player.Request(cmd.Context(), text, voice)
			waitIdle(cmd.Context(), player)
			if !played.Load() {
				return errors.New("speech was not played, run with -v for details")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "spoke %d characters in %s\n", len([]rune(text)), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&personaID, "persona", "p", "gandalf", "persona whose voice is used")
	cmd.Flags().StringVar(&voiceID, "voice", "", "override the voice id")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the MP3 to this file instead of playing it")
	return cmd
}
