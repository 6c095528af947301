package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gwi.com/jedi-chat-client/internal/store"
)

func printConversation(out io.Writer, c store.Conversation) {
	flag := ""
	if c.IsArchived() {
		flag = " [archived]"
	}
	fmt.Fprintf(out, "%s  %s%s\n", c.ID, c.DisplayTitle(), flag)
}

func newChatsCmd(a *app) *cobra.Command {
	var search string
	var archived bool

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if _, err := a.chat.Conversations(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range a.chat.SearchChats(search) {
				if c.IsArchived() != archived {
					continue
				}
				printConversation(out, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive title filter")
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived conversations instead")
	return cmd
}

func newNewChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Start a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			conv, err := a.chat.NewChat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printConversation(cmd.OutOrStdout(), conv)
			return nil
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			conv, err := a.chat.RenameChat(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printConversation(cmd.OutOrStdout(), conv)
			return nil
		},
	}
}

func newArchiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <conversation-id>",
		Short: "Archive or unarchive a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			conv, err := a.chat.ToggleArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printConversation(cmd.OutOrStdout(), conv)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if err := a.chat.DeleteChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			q, err := a.chat.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range q.Data() {
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			}
			return nil
		},
	}
}
