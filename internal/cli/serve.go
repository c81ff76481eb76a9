package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/anonrelay/internal/channel"
	"github.com/soyeahso/anonrelay/internal/channel/telegram"
	"github.com/soyeahso/anonrelay/internal/config"
	"github.com/soyeahso/anonrelay/internal/conversation"
	"github.com/soyeahso/anonrelay/internal/directory"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/gateway"
	"github.com/soyeahso/anonrelay/internal/hooks"
	"github.com/soyeahso/anonrelay/internal/metrics"
	"github.com/soyeahso/anonrelay/internal/relay"
	"github.com/soyeahso/anonrelay/internal/routing"
	"github.com/soyeahso/anonrelay/internal/store"
	"github.com/spf13/cobra"
)

const channelStopTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
		mode string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: Telegram channel plus the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if mode != "" {
				cfg.Telegram.Mode = mode
			}
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating state directories: %w", err)
			}

			// Load raw config for RPC access
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			dbPath := paths.DatabasePath(cfg.Store)
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			log.Info().Str("path", dbPath).Msg("database ready")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			hookMgr := hooks.NewManager(log)
			if n := hookMgr.RegisterConfig(cfg.Hooks); n > 0 {
				log.Info().Int("hooks", n).Msg("command hooks registered")
			}

			users := store.NewUserStore(db)
			messages := store.NewMessageStore(db)
			dir := directory.New(users, directory.Options{
				Length:      cfg.Relay.LinkLength,
				MaxAttempts: cfg.Relay.MaxTokenAttempts,
			}, log)
			states := conversation.New(time.Duration(cfg.Relay.StateTTLMinutes) * time.Minute)
			go states.Run(ctx)

			channels := channel.NewRegistry(log)
			var tg *telegram.Channel
			botUsername := cfg.Telegram.BotUsername
			if cfg.Telegram.Enabled() {
				tg = telegram.New(cfg.Telegram, m, log)
				if err := channels.Register(tg); err != nil {
					return err
				}
				if name, err := tg.Identify(ctx); err != nil {
					log.Warn().Err(err).Msg("could not resolve bot username; links will carry bare tokens")
				} else {
					botUsername = name
				}
			} else {
				log.Warn().Msg("no Telegram token configured; serving the gateway only")
			}

			router := routing.NewRouter(channels, nil, log, routing.WithMetrics(m))
			limits := channels.Limits()
			rl := relay.New(relay.Deps{
				Directory: dir,
				Users:     users,
				Messages:  messages,
				States:    states,
				Sender:    router,
				Hooks:     hookMgr,
				Metrics:   m,
				Log:       log,
				Options: relay.Options{
					Operators:      operatorIDs(cfg.Relay.Operators),
					BotUsername:    botUsername,
					PreviewLength:  cfg.Relay.PreviewLength,
					AdminListLimit: cfg.Relay.AdminListLimit,
					DashboardLimit: cfg.Relay.DashboardLimit,
					UserListLimit:  cfg.Relay.UserListLimit,
					Limits:         limits,
				},
			})
			router.SetHandler(rl)
			router.Wire(ctx)

			m.Gauge("pending_conversations", "Senders with a pending compose or reply.", func() float64 {
				return float64(states.Len())
			})
			m.Gauge("active_sender_workers", "Per-sender event queues currently running.", func() float64 {
				return float64(router.Active())
			})

			opts := []gateway.ServerOption{
				gateway.WithConfigRaw(raw),
				gateway.WithHooks(hookMgr),
				gateway.WithChannels(channels),
				gateway.WithMetrics(m),
				gateway.WithAdmin(store.NewAdmin(db)),
			}
			if tg != nil && cfg.Telegram.Mode == "webhook" {
				opts = append(opts, gateway.WithWebhook(tg.WebhookHandler()))
			}
			srv := gateway.New(cfg, log, opts...)

			channels.StartAll(ctx)

			log.Info().
				Str("bot", botUsername).
				Str("mode", cfg.Telegram.Mode).
				Int("operators", len(cfg.Relay.Operators)).
				Msg("relay active")

			err = srv.Start(ctx)
			stop()
			stopCtx, cancelStop := context.WithTimeout(context.Background(), channelStopTimeout)
			if serr := channels.StopAll(stopCtx); serr != nil {
				log.Warn().Err(serr).Msg("channels did not stop in time")
			}
			cancelStop()
			router.Wait()
			hookMgr.Wait()
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().StringVar(&mode, "mode", "", "override Telegram mode (webhook, polling)")

	return cmd
}

func operatorIDs(ids []int64) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserID(id))
	}
	return out
}
