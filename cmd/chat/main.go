package main

import (
	"fmt"
	"log"
	"os"

	"gwi.com/jedi-chat-client/internal/cli"
	"gwi.com/jedi-chat-client/internal/config"
)

func main() {
	config.LoadConfig()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
