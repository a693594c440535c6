package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/masahide/factorio-status/pkg/api"
	"github.com/masahide/factorio-status/pkg/factorio"
	"github.com/masahide/factorio-status/pkg/metrics"
	"github.com/masahide/factorio-status/pkg/publisher"
	"github.com/masahide/factorio-status/pkg/rcon"
	"github.com/masahide/factorio-status/pkg/state"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

type env struct {
	Debug bool `envconfig:"DEBUG" default:"false"`
	rcon.Env
	// Discord
	DiscordToken     string `envconfig:"DISCORD_TOKEN" required:"true"`
	DiscordChannelID string `envconfig:"DISCORD_CHANNEL_ID"`
	DiscordGuildID   string `envconfig:"DISCORD_GUILD_ID"`
	// Needs the privileged message content intent.
	PrefixCommand bool `envconfig:"PREFIX_COMMAND" default:"false"`

	CheckInterval   int    `envconfig:"CHECK_INTERVAL" default:"60"`
	AnnouncePlayers bool   `envconfig:"ANNOUNCE_PLAYERS" default:"true"`
	StateFile       string `envconfig:"STATE_FILE"`

	OtelEnabled bool   `envconfig:"OTEL_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	metrics.MackerelEnv
	api.Config
}

func loadEnv() (env, error) {
	e := env{}
	if err := envconfig.Process("", &e); err != nil {
		return e, err
	}
	if e.CheckInterval <= 0 {
		return e, fmt.Errorf("CHECK_INTERVAL must be positive, got %d", e.CheckInterval)
	}
	return e, nil
}

func (e env) interval() time.Duration {
	return time.Duration(e.CheckInterval) * time.Second
}

func (e env) intents() discordgo.Intent {
	in := discordgo.IntentsGuilds
	if e.PrefixCommand {
		in |= discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	}
	return in
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}
	e, err := loadEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if e.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: e.SentryDSN, Debug: e.Debug}); err != nil {
			log.Printf("sentry init: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, e); err != nil {
		log.Fatal(err)
	}
	log.Println("shutting down...")
}

func run(ctx context.Context, e env) error {
	dg, err := discordgo.New("Bot " + e.DiscordToken)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = e.intents()

	readyc := make(chan *discordgo.Ready, 1)
	dg.AddHandlerOnce(func(s *discordgo.Session, r *discordgo.Ready) {
		readyc <- r
	})
	if err := dg.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	defer dg.Close()

	var ready *discordgo.Ready
	select {
	case ready = <-readyc:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for Discord READY")
	case <-ctx.Done():
		return nil
	}
	log.Printf("%s has connected to Discord!", ready.User.String())

	meter, shutdownMeter, err := metrics.SetupMeter(ctx, e.OtelEnabled, e.interval())
	if err != nil {
		return err
	}
	defer shutdownMeter()

	pub, err := newPublisher(e, dg, ready.User.ID, meter)
	if err != nil {
		return err
	}

	appID := ready.User.ID
	if ready.Application != nil && ready.Application.ID != "" {
		appID = ready.Application.ID
	}
	if err := registerCommands(dg, appID, e.DiscordGuildID); err != nil {
		log.Println(err)
	}
	dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if err := handleStatusInteraction(ctx, s, pub, i.Interaction); err != nil {
			log.Println(err)
			sentry.CaptureException(err)
		}
	})
	if e.PrefixCommand {
		dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			if err := handlePrefixCommand(ctx, s, pub, ready.User.ID, m.Message); err != nil {
				log.Println(err)
			}
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pub.Run(ctx, e.interval())
		return nil
	})
	if e.Config.Addr != "" {
		srv := api.NewServer(e.Config, pub)
		g.Go(func() error {
			return api.Serve(ctx, srv)
		})
	}
	return g.Wait()
}

func newPublisher(e env, dg *discordgo.Session, botUserID string, meter metric.Meter) (*publisher.Publisher, error) {
	fetcher := factorio.NewFetcher(&rcon.Client{Env: e.Env, Debug: e.Debug}, e.Debug)

	ot, err := metrics.NewOtel(meter, e.Env.Addr())
	if err != nil {
		return nil, fmt.Errorf("otel instruments: %w", err)
	}
	observers := []publisher.Observer{ot}
	if e.MackerelEnv.Enabled() {
		observers = append(observers, metrics.NewMackerel(e.MackerelEnv, e.Debug))
	}

	opts := []publisher.Option{
		publisher.WithPresence(dg),
		publisher.WithObservers(observers...),
	}
	if e.StateFile != "" {
		opts = append(opts, publisher.WithStore(&state.File{Path: e.StateFile}))
	}
	return publisher.New(publisher.Config{
		ChannelID: e.DiscordChannelID,
		BotUserID: botUserID,
		Announce:  e.AnnouncePlayers,
		Debug:     e.Debug,
	}, dg, fetcher, opts...), nil
}
