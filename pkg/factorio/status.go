// Package factorio queries a Factorio server over RCON and turns the replies
// into a ServerStatus snapshot.
package factorio

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/masahide/factorio-status/pkg/rcon"
)

const (
	cmdPlayersOnline = "/players online"
	cmdVersion       = "/version"
	cmdTime          = "/time"
)

// ServerStatus is the snapshot produced by one fetch.
type ServerStatus struct {
	Online         bool      `json:"online"`
	Players        []string  `json:"players"`
	PlayerCount    int       `json:"playerCount"`
	GameVersion    string    `json:"gameVersion,omitempty"`
	ServerLifetime string    `json:"serverLifetime,omitempty"`
	Error          string    `json:"error,omitempty"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

type Opener interface {
	Open(ctx context.Context) (rcon.Session, error)
}

type Fetcher struct {
	Console Opener
	Debug   bool

	now func() time.Time
}

func NewFetcher(console Opener, debug bool) *Fetcher {
	return &Fetcher{Console: console, Debug: debug, now: time.Now}
}

// Fetch never fails: errors are folded into an offline ServerStatus.
func (f *Fetcher) Fetch(ctx context.Context) ServerStatus {
	st, err := f.fetch(ctx)
	if err != nil {
		log.Printf("Error getting server status: %s", err)
		st = ServerStatus{
			Players: []string{},
			Error:   fmt.Sprintf("Connection error: %s", err),
		}
	}
	st.FetchedAt = f.clock()
	return st
}

func (f *Fetcher) fetch(ctx context.Context) (ServerStatus, error) {
	s, err := f.Console.Open(ctx)
	if err != nil {
		return ServerStatus{}, err
	}
	defer func() {
		if err := s.Close(); err != nil && f.Debug {
			log.Printf("Error closing rcon session: %s", err)
		}
	}()

	playersResp, err := s.Command(cmdPlayersOnline)
	if err != nil {
		return ServerStatus{}, err
	}
	versionResp, err := s.Command(cmdVersion)
	if err != nil {
		return ServerStatus{}, err
	}
	timeResp, err := s.Command(cmdTime)
	if err != nil {
		return ServerStatus{}, err
	}

	players := ParsePlayersOnline(playersResp)
	st := ServerStatus{
		Online:         true,
		Players:        players,
		PlayerCount:    len(players),
		GameVersion:    strings.TrimSpace(versionResp),
		ServerLifetime: strings.TrimSpace(timeResp),
	}
	if f.Debug {
		log.Printf("Server status: online=%t players=%v version=%q lifetime=%q",
			st.Online, st.Players, st.GameVersion, st.ServerLifetime)
	}
	return st, nil
}

func (f *Fetcher) clock() time.Time {
	if f.now == nil {
		return time.Now()
	}
	return f.now()
}
