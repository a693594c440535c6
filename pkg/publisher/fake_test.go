package publisher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/factorio-status/pkg/factorio"
	"github.com/masahide/factorio-status/pkg/state"
)

const (
	testChannel = "100"
	testBotUser = "42"
)

type fakeDiscord struct {
	mu sync.Mutex

	channelErr error
	pinned     []*discordgo.Message
	pinnedErr  error
	editErr    map[string]error
	// pinFailures makes the next n pins fail.
	pinFailures int

	notifications []string
	created       []*discordgo.MessageEmbed
	edited        []string
	pins          []string
	nextID        int
}

func (f *fakeDiscord) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessagesPinned(string, ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned, f.pinnedErr
}

func (f *fakeDiscord) ChannelMessageSend(_, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, content)
	return &discordgo.Message{Content: content}, nil
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, embed)
	return &discordgo.Message{
		ID:        "msg-" + strconv.Itoa(f.nextID),
		ChannelID: channelID,
		Author:    &discordgo.User{ID: testBotUser},
	}, nil
}

func (f *fakeDiscord) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editErr[messageID]; err != nil {
		return nil, err
	}
	f.edited = append(f.edited, messageID)
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessagePin(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinFailures > 0 {
		f.pinFailures--
		return errBoom
	}
	f.pins = append(f.pins, messageID)
	f.pinned = append([]*discordgo.Message{{ID: messageID, ChannelID: channelID, Author: &discordgo.User{ID: testBotUser}}}, f.pinned...)
	return nil
}

func (f *fakeDiscord) resetNotifications() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	statuses []factorio.ServerStatus
	calls    int
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeFetcher) Fetch(context.Context) factorio.ServerStatus {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[i]
}

func (f *fakeFetcher) set(st ...factorio.ServerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = st
	f.calls = 0
}

type fakeStore struct {
	hint    state.TrackedMessage
	loadErr error
	saved   []state.TrackedMessage
}

func (f *fakeStore) Load() (state.TrackedMessage, error) { return f.hint, f.loadErr }

func (f *fakeStore) Save(v state.TrackedMessage) error {
	f.saved = append(f.saved, v)
	return nil
}

type fakePresence struct{ texts []string }

func (f *fakePresence) UpdateGameStatus(_ int, name string) error {
	f.texts = append(f.texts, name)
	return nil
}

type fakeObserver struct {
	statuses []factorio.ServerStatus
	joined   [][]string
	left     [][]string
}

func (f *fakeObserver) Observe(_ context.Context, st factorio.ServerStatus, joined, left []string) {
	f.statuses = append(f.statuses, st)
	f.joined = append(f.joined, joined)
	f.left = append(f.left, left)
}

var testNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func online(players ...string) factorio.ServerStatus {
	if players == nil {
		players = []string{}
	}
	return factorio.ServerStatus{
		Online:         true,
		Players:        players,
		PlayerCount:    len(players),
		GameVersion:    "1.1.110",
		ServerLifetime: "1 hour",
		FetchedAt:      testNow,
	}
}

func offline() factorio.ServerStatus {
	return factorio.ServerStatus{
		Players:   []string{},
		Error:     "Connection error: connection refused",
		FetchedAt: testNow,
	}
}

var errBoom = errors.New("boom")

func newTestPublisher(d *fakeDiscord, f *fakeFetcher, opts ...Option) *Publisher {
	p := New(Config{ChannelID: testChannel, BotUserID: testBotUser, Announce: true}, d, f, opts...)
	p.now = func() time.Time { return testNow }
	return p
}
