package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"gwi.com/jedi-chat-client/internal/store"
	"gwi.com/jedi-chat-client/internal/stream"
)

// replyPrinter writes the growing placeholder content as it streams in.
type replyPrinter struct {
	out io.Writer

	mu      sync.Mutex
	printed string
}

func (p *replyPrinter) observe(msgs []store.Message) {
	for _, m := range msgs {
		if m.ID != stream.PlaceholderID || m.Content == stream.PlaceholderContent {
			continue
		}
		p.mu.Lock()
		if strings.HasPrefix(m.Content, p.printed) {
			fmt.Fprint(p.out, m.Content[len(p.printed):])
			p.printed = m.Content
		}
		p.mu.Unlock()
	}
}

// finish prints whatever part of the final reply the deltas did not cover.
func (p *replyPrinter) finish(final store.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(final.Content, p.printed) {
		fmt.Fprint(p.out, final.Content[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+final.Content)
	}
	fmt.Fprintln(p.out)
}

type replyFunc func(ctx context.Context, model string) (store.Message, error)

// streamReply runs fn while printing the reply of conversationID as it
// arrives.
func (a *app) streamReply(cmd *cobra.Command, conversationID, model string, fn replyFunc) error {
	ctx := cmd.Context()
	if model == "" {
		m, err := a.chat.DefaultModel(ctx)
		if err != nil {
			return err
		}
		model = m
	}
	if model == "" {
		return errors.New("no model available, pass --model")
	}

	messages, err := a.chat.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	printer := &replyPrinter{out: cmd.OutOrStdout()}
	unsubscribe := messages.Subscribe(printer.observe)
	defer unsubscribe()

	final, err := fn(ctx, model)
	if err != nil {
		return err
	}
	if final.ID == "" {
		return errors.New("nothing to send")
	}
	printer.finish(final)
	return nil
}

func newMessagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Show the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			messages, err := a.chat.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range messages.Items() {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.ID, m.Role, m.Content)
				for _, f := range m.Files {
					fmt.Fprintf(out, "    attached %s (%s)\n", f.Name, f.PublicURL)
				}
			}
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var model string
	var attach []string

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <message>",
		Short: "Send a message and stream the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			convID, content := args[0], strings.Join(args[1:], " ")
			for _, path := range attach {
				if _, err := a.uploadPath(cmd.Context(), convID, path); err != nil {
					return err
				}
			}
			return a.streamReply(cmd, convID, model, func(ctx context.Context, model string) (store.Message, error) {
				return a.chat.SendMessage(ctx, convID, content, model)
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (default DEFAULT_MODEL or the first served model)")
	cmd.Flags().StringSliceVarP(&attach, "attach", "a", nil, "file to upload and attach")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "edit <conversation-id> <message-id> <content>",
		Short: "Edit a message, drop the later ones and stream a new reply",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			convID, messageID, content := args[0], args[1], strings.Join(args[2:], " ")
			return a.streamReply(cmd, convID, model, func(ctx context.Context, model string) (store.Message, error) {
				return a.chat.EditMessage(ctx, convID, messageID, content, model)
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id")
	return cmd
}

func newRegenerateCmd(a *app) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "regenerate <conversation-id>",
		Short: "Replace the last reply with a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			convID := args[0]
			return a.streamReply(cmd, convID, model, func(ctx context.Context, model string) (store.Message, error) {
				return a.chat.Regenerate(ctx, convID, model)
			})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id")
	return cmd
}

func newDeleteMessageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <conversation-id> <message-id>",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if err := a.chat.DeleteMessage(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
			return nil
		},
	}
}

func (a *app) uploadPath(ctx context.Context, conversationID, path string) (store.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.File{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return a.chat.UploadFile(ctx, conversationID, filepath.Base(path), f)
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <conversation-id> <file>...",
		Short: "Upload files as attachments of the next message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			for _, path := range args[1:] {
				file, err := a.uploadPath(cmd.Context(), args[0], path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", file.ID, file.Name, file.PublicURL)
			}
			return nil
		},
	}
}

func newDetachCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <conversation-id> <file-id>",
		Short: "Delete an uploaded file and remove it from the draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if err := a.chat.DetachFile(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Detached %s\n", args[1])
			return nil
		},
	}
}
