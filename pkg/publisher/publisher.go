// Package publisher keeps a pinned Discord message in sync with the Factorio
// server status and announces players joining and leaving.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	dfatomic "github.com/df-mc/atomic"
	"github.com/getsentry/sentry-go"
	"github.com/masahide/factorio-status/pkg/factorio"
	"github.com/masahide/factorio-status/pkg/state"
	"github.com/samber/lo"
)

// Discord is the subset of *discordgo.Session the publisher talks to.
type Discord interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessagesPinned(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
}

type Presence interface {
	UpdateGameStatus(idle int, name string) error
}

type Fetcher interface {
	Fetch(ctx context.Context) factorio.ServerStatus
}

// Observer receives every scheduled status together with the computed
// join/leave sets. Implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, st factorio.ServerStatus, joined, left []string)
}

type TrackedStore interface {
	Load() (state.TrackedMessage, error)
	Save(state.TrackedMessage) error
}

type Config struct {
	ChannelID string
	BotUserID string
	Announce  bool
	Debug     bool
}

// State is mutated only by scheduled ticks.
type State struct {
	trackedMessageID string
	pinned           bool
	hintChecked      bool
	// sorted, unique
	lastKnownPlayers []string
}

func (s *State) TrackedMessageID() string { return s.trackedMessageID }

func (s *State) LastKnownPlayers() []string { return slices.Clone(s.lastKnownPlayers) }

type Publisher struct {
	cfg       Config
	discord   Discord
	fetcher   Fetcher
	presence  Presence
	store     TrackedStore
	observers []Observer

	state   State
	latest  dfatomic.Value[factorio.ServerStatus]
	running atomic.Bool
	now     func() time.Time
}

type Option func(*Publisher)

func WithPresence(p Presence) Option { return func(pub *Publisher) { pub.presence = p } }

func WithStore(s TrackedStore) Option { return func(pub *Publisher) { pub.store = s } }

func WithObservers(o ...Observer) Option {
	return func(pub *Publisher) { pub.observers = append(pub.observers, o...) }
}

func New(cfg Config, discord Discord, fetcher Fetcher, opts ...Option) *Publisher {
	p := &Publisher{
		cfg:     cfg,
		discord: discord,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) State() *State { return &p.state }

// Latest returns the status observed by the most recent tick.
func (p *Publisher) Latest() (factorio.ServerStatus, bool) {
	st := p.latest.Load()
	return st, !st.FetchedAt.IsZero()
}

// Refresh fetches a fresh status without touching publisher state.
func (p *Publisher) Refresh(ctx context.Context) factorio.ServerStatus {
	return p.fetcher.Fetch(ctx)
}

// ManualStatus renders a fresh status for an on-demand request.
func (p *Publisher) ManualStatus(ctx context.Context) *discordgo.MessageEmbed {
	return RenderStatus(p.Refresh(ctx), p.now())
}

// Tick runs one poll-diff-publish cycle.
func (p *Publisher) Tick(ctx context.Context) {
	channelID, ok := p.resolveChannel()
	if !ok {
		return
	}
	st := p.fetcher.Fetch(ctx)
	p.latest.Store(st)
	embed := RenderStatus(st, p.now())

	joined, left := p.announce(channelID, st)

	if err := p.upsert(channelID, embed); err != nil {
		p.report(err)
	}
	p.updatePresence(st)
	for _, o := range p.observers {
		o.Observe(ctx, st, joined, left)
	}
}

func (p *Publisher) resolveChannel() (string, bool) {
	if p.cfg.ChannelID == "" {
		if p.cfg.Debug {
			log.Println("No channel configured, skipping tick")
		}
		return "", false
	}
	if _, err := p.discord.Channel(p.cfg.ChannelID); err != nil {
		if p.cfg.Debug {
			log.Printf("Channel %s unavailable, skipping tick: %s", p.cfg.ChannelID, err)
		}
		return "", false
	}
	return p.cfg.ChannelID, true
}

func (p *Publisher) announce(channelID string, st factorio.ServerStatus) (joined, left []string) {
	if !p.cfg.Announce || !st.Online {
		p.state.lastKnownPlayers = []string{}
		return nil, nil
	}
	joined, left = diffPlayers(p.state.lastKnownPlayers, st.Players)
	for _, name := range joined {
		p.notify(channelID, fmt.Sprintf("🟢 **%s** joined the server", escapeMarkdown(name)))
	}
	for _, name := range left {
		p.notify(channelID, fmt.Sprintf("🔴 **%s** left the server", escapeMarkdown(name)))
	}
	current := lo.Uniq(lo.Compact(st.Players))
	slices.Sort(current)
	p.state.lastKnownPlayers = current
	return joined, left
}

// diffPlayers compares by exact name. joined keeps fetch order, left keeps
// the (sorted) order of previous. Blank names are ignored.
func diffPlayers(previous, current []string) (joined, left []string) {
	return lo.Difference(lo.Uniq(lo.Compact(current)), previous)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, `~`, `\~`, "`", "\\`", `|`, `\|`, `>`, `\>`,
)

// escapeMarkdown keeps player names from breaking the bold markup.
func escapeMarkdown(name string) string {
	return markdownEscaper.Replace(name)
}

func (p *Publisher) notify(channelID, content string) {
	if _, err := p.discord.ChannelMessageSend(channelID, content); err != nil {
		p.report(fmt.Errorf("send notification %q: %w", content, err))
	}
}

func (p *Publisher) upsert(channelID string, embed *discordgo.MessageEmbed) error {
	if p.state.trackedMessageID == "" {
		id, pinned, err := p.discover(channelID, "")
		if err != nil {
			// Sending now could leave two pinned status messages.
			return err
		}
		p.track(id, pinned)
	}
	if id := p.state.trackedMessageID; id != "" {
		err := p.edit(channelID, id, embed)
		if err == nil {
			return p.ensurePinned(channelID)
		}
		if !isNotFound(err) {
			return err
		}
		log.Printf("Status message %s is gone, looking for another one", id)
		p.track("", false)
		next, pinned, err := p.discover(channelID, id)
		if err != nil {
			return err
		}
		if next != "" {
			p.track(next, pinned)
			if err := p.edit(channelID, next, embed); err != nil {
				return err
			}
			return p.ensurePinned(channelID)
		}
	}
	return p.create(channelID, embed)
}

func (p *Publisher) track(id string, pinned bool) {
	p.state.trackedMessageID = id
	p.state.pinned = pinned
}

func (p *Publisher) edit(channelID, messageID string, embed *discordgo.MessageEmbed) error {
	if _, err := p.discord.ChannelMessageEditEmbed(channelID, messageID, embed); err != nil {
		return fmt.Errorf("edit status message %s: %w", messageID, err)
	}
	return nil
}

func (p *Publisher) create(channelID string, embed *discordgo.MessageEmbed) error {
	m, err := p.discord.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	p.track(m.ID, false)
	log.Printf("Created status message %s in channel %s", m.ID, channelID)
	if p.store != nil {
		if err := p.store.Save(state.TrackedMessage{ChannelID: channelID, MessageID: m.ID}); err != nil {
			log.Println(err)
		}
	}
	return p.ensurePinned(channelID)
}

// ensurePinned pins the tracked message unless it is known to be pinned.
// A failed pin is retried on the next tick; an unpinned message would not
// be found again after a restart.
func (p *Publisher) ensurePinned(channelID string) error {
	if p.state.pinned {
		return nil
	}
	id := p.state.trackedMessageID
	if err := p.discord.ChannelMessagePin(channelID, id); err != nil {
		return fmt.Errorf("pin status message %s: %w", id, err)
	}
	p.state.pinned = true
	return nil
}

// discover looks for an earlier status message: first the state file hint
// (once per process), then the channel pins. pinned reports whether the
// message came from the pin list.
func (p *Publisher) discover(channelID, exclude string) (id string, pinned bool, err error) {
	if !p.state.hintChecked && p.store != nil {
		p.state.hintChecked = true
		hint, err := p.store.Load()
		if err != nil {
			log.Println(err)
		} else if hint.ChannelID == channelID && hint.MessageID != "" && hint.MessageID != exclude {
			if p.cfg.Debug {
				log.Printf("Using status message %s from state file", hint.MessageID)
			}
			return hint.MessageID, false, nil
		}
	}
	list, err := p.discord.ChannelMessagesPinned(channelID)
	if err != nil {
		return "", false, fmt.Errorf("list pinned messages: %w", err)
	}
	for _, m := range list {
		if m.ID == exclude || m.Author == nil {
			continue
		}
		if m.Author.ID == p.cfg.BotUserID {
			if p.cfg.Debug {
				log.Printf("Adopting pinned status message %s", m.ID)
			}
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

func (p *Publisher) updatePresence(st factorio.ServerStatus) {
	if p.presence == nil {
		return
	}
	text := "server offline"
	if st.Online {
		text = fmt.Sprintf("%d players online", st.PlayerCount)
	}
	if err := p.presence.UpdateGameStatus(0, text); err != nil {
		log.Printf("Error updating presence: %s", err)
	}
}

func (p *Publisher) report(err error) {
	log.Println(err)
	sentry.CaptureException(err)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
