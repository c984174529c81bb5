// Command tavernctl exercises the text and speech backends from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

var version = "dev"

// app 保存各子命令共享的依赖
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	personas persona.Store
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}

	items := persona.Seed()
	if cfg.PersonasFile != "" {
		if items, err = persona.LoadFile(cfg.PersonasFile); err != nil {
			return err
		}
	}

	a.cfg = cfg
	a.logger = logger
	a.personas = persona.NewMemoryStore(items)
	return nil
}

func (a *app) persona(id string) (persona.Persona, error) {
	p, ok := a.personas.FindByID(id)
	if !ok {
		return persona.Persona{}, fmt.Errorf("unknown persona %q", id)
	}
	return p, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "tavernctl",
		Short:             "Roleplay chat backend tools",
		Long:              "tavernctl talks to the configured text and speech backends using the same environment as the server.",
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newPersonasCmd(a),
		newPingCmd(a),
		newChatCmd(a),
		newVoicesCmd(a),
		newUsageCmd(a),
		newSayCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
