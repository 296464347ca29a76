package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandInteraction(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "g1",
			ChannelID: "text-1",
			Member: &discordgo.Member{
				Nick: "Al",
				User: &discordgo.User{ID: "u1", Username: "alice"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func TestParseInteraction(t *testing.T) {
	i := commandInteraction(cmdPlay, &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionQuery,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: "never gonna give you up",
	})

	var lookedUp []string
	req := parseInteraction(i, func(guildID, userID string) string {
		lookedUp = append(lookedUp, guildID, userID)
		return "voice-1"
	})

	assert.Equal(t, cmdPlay, req.Name)
	assert.Equal(t, "g1", req.GuildID)
	assert.Equal(t, "text-1", req.TextChannelID)
	assert.Equal(t, "voice-1", req.VoiceChannelID)
	assert.Equal(t, "never gonna give you up", req.Query)
	assert.Equal(t, "u1", req.User.ID)
	assert.Equal(t, "Al", req.User.Name)
	assert.Equal(t, []string{"g1", "u1"}, lookedUp)
}

func TestParseInteraction_DirectMessage(t *testing.T) {
	i := commandInteraction(cmdQueue)
	i.GuildID = ""
	i.Member = nil
	i.User = &discordgo.User{ID: "u2", Username: "bob", GlobalName: "Bobby"}

	req := parseInteraction(i, func(guildID, userID string) string {
		t.Fatal("voice lookup outside a guild")
		return ""
	})

	assert.Empty(t, req.GuildID)
	assert.Empty(t, req.VoiceChannelID)
	assert.Equal(t, "Bobby", req.User.Name)
}

func TestInteractionUser_FallsBackToUsername(t *testing.T) {
	i := commandInteraction(cmdQueue)
	i.Member.Nick = ""

	assert.Equal(t, "alice", interactionUser(i).Name)
}

func TestCommandDefinitions(t *testing.T) {
	defs := commandDefinitions()

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{cmdPlay, cmdSkip, cmdStop, cmdQueue, cmdNowPlaying}, names)

	require.Len(t, defs[0].Options, 1)
	assert.Equal(t, optionQuery, defs[0].Options[0].Name)
	assert.True(t, defs[0].Options[0].Required)
}
