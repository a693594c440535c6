package publisher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/factorio-status/pkg/factorio"
	"github.com/samber/lo"
)

const (
	embedTitle  = "Factorio Server Status"
	colorOnline = 0x2ecc71
	colorAlert  = 0xe74c3c

	// Discord rejects embed field values longer than this.
	maxFieldValue = 1024
)

// RenderStatus builds the status embed. It has no side effects.
func RenderStatus(st factorio.ServerStatus, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     embedTitle,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if !st.Online {
		errText := st.Error
		if errText == "" {
			errText = "Unknown error"
		}
		embed.Color = colorAlert
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Status", Value: "🔴 Offline"},
			{Name: "Error", Value: truncateField(errText)},
		}
		return embed
	}

	embed.Color = colorOnline
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Status", Value: "🟢 Online"},
		{Name: "Players Online", Value: strconv.Itoa(st.PlayerCount), Inline: true},
		{Name: "Game Version", Value: orUnknown(st.GameVersion), Inline: true},
		{Name: "Server Lifetime", Value: orUnknown(st.ServerLifetime)},
	}
	if st.PlayerCount > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Player List",
			Value: playerList(st.Players),
		})
	}
	return embed
}

// Empty field values are rejected by Discord.
func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return truncateField(s)
}

func truncateField(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldValue {
		return s
	}
	return string(r[:maxFieldValue-1]) + "…"
}

func playerList(players []string) string {
	players = lo.Compact(players)
	if len(players) == 0 {
		return "Unknown"
	}
	var b strings.Builder
	for i, name := range players {
		line := name
		if i > 0 {
			line = "\n" + name
		}
		rest := len(players) - i
		more := fmt.Sprintf("\n…and %d more", rest)
		if b.Len()+len(line)+len(more) > maxFieldValue {
			b.WriteString(more)
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
