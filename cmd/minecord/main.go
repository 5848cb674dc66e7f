package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EgorLis/minecord/internal/bot"
	"github.com/EgorLis/minecord/internal/config"
	"github.com/EgorLis/minecord/internal/discord"
	"github.com/EgorLis/minecord/internal/logging"
	"github.com/EgorLis/minecord/internal/perms"
	"github.com/EgorLis/minecord/internal/server"
)

var (
	configPath string
	tokenPath  string
	autostart  bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "minecord",
	Short: "Discord bot that runs a Minecraft server",
	Long: `minecord starts and stops a Minecraft server on behalf of the members of
one Discord channel, relays the in-game chat and passes console commands
through, gated by roles defined in a permission document.`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and permission documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine, err := perms.New(cfg.RoleConfig, cfg.RoleUsers, zap.NewNop())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: channel %s, %d roles\n", cfg.Channel, len(engine.ListRoles()))
		return nil
	},
}

func init() {
	// assigned here rather than in the literal to avoid an initialization cycle (run refers to rootCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration document")
	rootCmd.Flags().StringVar(&tokenPath, "token", "", "file holding the bot token (overrides auth-token)")
	rootCmd.Flags().BoolVar(&autostart, "autostart", false, "start the server once connected")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "human-readable debug logging")
	rootCmd.AddCommand(checkCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("token"); f != nil && f.Changed {
		cfg.AuthToken = tokenPath
	}
	if autostart {
		cfg.Autostart = true
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(rootCmd)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	token, err := config.LoadToken(cfg.AuthToken)
	if err != nil {
		return err
	}
	engine, err := perms.New(cfg.RoleConfig, cfg.RoleUsers, log.Named("perms"))
	if err != nil {
		return err
	}

	sup := server.New(server.Config{Dir: cfg.MCDirectory, Command: cfg.Command()}, log.Named("server"))
	defer sup.Close()

	dc := discord.New(token, log.Named("discord"))
	b := bot.New(bot.Config{
		ChannelID:    cfg.Channel,
		Prefixes:     cfg.Prefixes,
		MCDirectory:  cfg.MCDirectory,
		KillTimeout:  cfg.KillTimeoutDuration(),
		ShellTimeout: cfg.ShellTimeoutDuration(),
		Autostart:    cfg.Autostart,
		NamePrefix:   cfg.NamePrefix,
	}, dc, sup, engine, log.Named("bot"))

	sup.OnLine = b.HandleLine
	sup.OnExit = b.HandleExit
	dc.OnReady = b.HandleReady
	dc.OnMessage = b.HandleMessage
	dc.OnReactionAdd = b.HandleReaction

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// quit ends the bot loop; everything else follows
		defer cancel()
		return b.Run(ctx)
	})
	g.Go(func() error { return dc.Run(ctx) })
	g.Go(func() error { return engine.Watch(ctx, b.HandlePermsReload) })

	log.Info("minecord started", zap.String("channel", cfg.Channel), zap.Strings("command", cfg.Command()))
	err = g.Wait()
	if sup.Alive() {
		log.Info("killing server on shutdown")
		sup.Kill(context.Background())
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("minecord stopped", zap.Error(err))
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
