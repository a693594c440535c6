package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const prefixCommand = "!status"

var statusCommand = &discordgo.ApplicationCommand{
	Name:        "status",
	Description: "Check the Factorio server status now",
}

type manualStatuser interface {
	ManualStatus(ctx context.Context) *discordgo.MessageEmbed
}

type interactionResponder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type commandRegistrar interface {
	ApplicationCommandCreate(appID string, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
}

func registerCommands(s commandRegistrar, appID, guildID string) error {
	if _, err := s.ApplicationCommandCreate(appID, guildID, statusCommand); err != nil {
		return fmt.Errorf("register /%s: %w", statusCommand.Name, err)
	}
	return nil
}

// handleStatusInteraction defers the reply first since an RCON round trip
// can outlast the interaction deadline.
func handleStatusInteraction(ctx context.Context, r interactionResponder, src manualStatuser, i *discordgo.Interaction) error {
	if i.Type != discordgo.InteractionApplicationCommand || i.ApplicationCommandData().Name != statusCommand.Name {
		return nil
	}
	err := r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return fmt.Errorf("defer interaction: %w", err)
	}
	embeds := []*discordgo.MessageEmbed{src.ManualStatus(ctx)}
	if _, err := r.InteractionResponseEdit(i, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		return fmt.Errorf("edit interaction response: %w", err)
	}
	return nil
}

func handlePrefixCommand(ctx context.Context, s embedSender, src manualStatuser, botUserID string, m *discordgo.Message) error {
	if m.Author == nil || m.Author.Bot || m.Author.ID == botUserID {
		return nil
	}
	if strings.TrimSpace(m.Content) != prefixCommand {
		return nil
	}
	if _, err := s.ChannelMessageSendEmbed(m.ChannelID, src.ManualStatus(ctx)); err != nil {
		return fmt.Errorf("reply to %s: %w", prefixCommand, err)
	}
	return nil
}
