package cmd

import (
	"fmt"
	"github.com/Gibstick/pin-archive-3/pinarchive"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"log"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the bot's slash commands with Discord, then exit",
	Long: "Bulk-overwrites the bot's slash commands, for the guild set in " +
		"discord.guild_id or globally if it's empty. Use this when " +
		"discord.register_commands is disabled.",
	Run: func(cmd *cobra.Command, args []string) {
		bot, err := pinarchive.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}
		created, err := bot.RegisterSlashCommands(discordgo.WithContext(cmd.Context()))
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}
		out := cmd.OutOrStdout()
		for _, c := range created {
			fmt.Fprintf(out, "registered /%s (%s)\n", c.Name, c.ID)
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCmd)
}
