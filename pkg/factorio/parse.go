package factorio

import (
	"regexp"
	"strconv"
	"strings"
)

// Online players (2):
//   Alice (online)
//   Bob (online)
var headerRe = regexp.MustCompile(`Online players \((\d+)\)`)

// ParsePlayersOnline extracts player names from a "/players online" reply.
// A missing or zero header yields an empty list.
func ParsePlayersOnline(resp string) []string {
	players := []string{}
	lines := strings.Split(strings.ReplaceAll(resp, "\r\n", "\n"), "\n")
	header := -1
	for i, line := range lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 {
			return players
		}
		header = i
		break
	}
	if header < 0 {
		return players
	}
	for _, line := range lines[header+1:] {
		// A line such as "  (afk)" carries no name.
		if name := playerName(line); name != "" {
			players = append(players, name)
		}
	}
	return players
}

func playerName(line string) string {
	if i := strings.Index(line, "("); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
