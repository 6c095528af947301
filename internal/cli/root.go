package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gwi.com/jedi-chat-client/internal/auth"
	"gwi.com/jedi-chat-client/internal/cache"
	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/core"
	"gwi.com/jedi-chat-client/internal/store"
	"gwi.com/jedi-chat-client/internal/stream"
	"gwi.com/jedi-chat-client/internal/transport"
)

var version = "dev"

// app holds the client wiring of one command invocation.
type app struct {
	local   *store.LocalStore
	cache   *cache.Store
	session *auth.Session
	client  *transport.Client
	chat    *core.ChatService
}

func (a *app) open() error {
	policy, err := stream.ParseEndPolicy(config.AppConfig.StreamEndPolicy)
	if err != nil {
		return err
	}

	local, err := store.NewLocalStore(config.AppConfig.StateDB)
	if err != nil {
		return err
	}
	a.local = local
	a.cache = cache.NewStore().WithPersister(local)

	a.session, err = auth.NewSession(local, a.cache)
	if err != nil {
		return err
	}
	if cred := a.session.Credential(); cred != "" && auth.Expired(cred) {
		log.Println("Stored credential has expired, run login again")
	}

	a.client = transport.NewClient(config.AppConfig.APIBaseURL, a.session)
	a.chat = core.NewChatService(a.cache, a.client, a.session, policy)
	config.Debugf("Client ready for %s with stream end policy %s", a.client.BaseURL(), policy)
	return nil
}

func (a *app) close() {
	if a.local == nil {
		return
	}
	if err := a.local.Close(); err != nil {
		log.Printf("Error closing local state store: %v", err)
	}
}

func (a *app) requireSession() error {
	if !a.session.SignedIn() {
		return fmt.Errorf("not signed in, run login first")
	}
	return nil
}

// Execute runs the chat command line.
func Execute() error {
	a := &app{}
	defer a.close()
	return newRootCmd(a).Execute()
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chat",
		Short:         "Command line client for the chat API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&config.AppConfig.APIBaseURL, "api", config.AppConfig.APIBaseURL, "API base URL")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newChatsCmd(a),
		newNewChatCmd(a),
		newRenameCmd(a),
		newArchiveCmd(a),
		newDeleteCmd(a),
		newModelsCmd(a),
		newMessagesCmd(a),
		newSendCmd(a),
		newEditCmd(a),
		newRegenerateCmd(a),
		newDeleteMessageCmd(a),
		newUploadCmd(a),
		newDetachCmd(a),
	)
	return rootCmd
}
