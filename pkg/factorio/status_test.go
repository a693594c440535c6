package factorio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/masahide/factorio-status/pkg/rcon"
)

type fakeSession struct {
	replies map[string]string
	failOn  string
	calls   []string
	closed  bool
}

func (f *fakeSession) Command(cmd string) (string, error) {
	f.calls = append(f.calls, cmd)
	if cmd == f.failOn {
		return "", errors.New("connection reset by peer")
	}
	return f.replies[cmd], nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	sess *fakeSession
	err  error
}

func (f *fakeOpener) Open(context.Context) (rcon.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

var fixedNow = time.Date(2024, 6, 30, 9, 55, 59, 0, time.UTC)

func newTestFetcher(o Opener) *Fetcher {
	f := NewFetcher(o, false)
	f.now = func() time.Time { return fixedNow }
	return f
}

func TestFetchOnline(t *testing.T) {
	sess := &fakeSession{replies: map[string]string{
		cmdPlayersOnline: "Online players (2):\n  Alice (online)\n  Bob (online)\n",
		cmdVersion:       "1.1.110\n",
		cmdTime:          " 3 days, 4 hours, 12 minutes and 3 seconds \n",
	}}
	f := newTestFetcher(&fakeOpener{sess: sess})

	got := f.Fetch(context.Background())
	want := ServerStatus{
		Online:         true,
		Players:        []string{"Alice", "Bob"},
		PlayerCount:    2,
		GameVersion:    "1.1.110",
		ServerLifetime: "3 days, 4 hours, 12 minutes and 3 seconds",
		FetchedAt:      fixedNow,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Fetch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{cmdPlayersOnline, cmdVersion, cmdTime}, sess.calls); diff != "" {
		t.Fatalf("command order mismatch (-want +got):\n%s", diff)
	}
	if !sess.closed {
		t.Fatal("session left open")
	}
}

func TestFetchNoPlayers(t *testing.T) {
	for _, reply := range []string{"Online players (0):", "nobody here"} {
		sess := &fakeSession{replies: map[string]string{cmdPlayersOnline: reply}}
		got := newTestFetcher(&fakeOpener{sess: sess}).Fetch(context.Background())
		if !got.Online {
			t.Fatalf("%q: expected online", reply)
		}
		if len(got.Players) != 0 || got.PlayerCount != 0 {
			t.Fatalf("%q: expected no players, got %v", reply, got.Players)
		}
	}
}

func TestFetchConnectionError(t *testing.T) {
	f := newTestFetcher(&fakeOpener{err: errors.New("dial tcp 192.168.1.120:27015: connect: connection refused")})

	got := f.Fetch(context.Background())
	if got.Online {
		t.Fatal("expected offline")
	}
	if !strings.Contains(got.Error, "Connection error") || !strings.Contains(got.Error, "connection refused") {
		t.Fatalf("unexpected error text: %q", got.Error)
	}
	if got.Players == nil || len(got.Players) != 0 {
		t.Fatalf("expected empty players, got %#v", got.Players)
	}
	if !got.FetchedAt.Equal(fixedNow) {
		t.Fatalf("FetchedAt = %v", got.FetchedAt)
	}
}

func TestFetchQueryErrorClosesSession(t *testing.T) {
	sess := &fakeSession{
		replies: map[string]string{cmdPlayersOnline: "Online players (1):\nAlice (online)"},
		failOn:  cmdVersion,
	}
	got := newTestFetcher(&fakeOpener{sess: sess}).Fetch(context.Background())
	if got.Online {
		t.Fatal("expected offline after mid-session failure")
	}
	if !strings.HasPrefix(got.Error, "Connection error: ") {
		t.Fatalf("unexpected error text: %q", got.Error)
	}
	if len(got.Players) != 0 {
		t.Fatalf("offline status must not carry players: %v", got.Players)
	}
	if !sess.closed {
		t.Fatal("session left open after failure")
	}
	if diff := cmp.Diff([]string{cmdPlayersOnline, cmdVersion}, sess.calls); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}
