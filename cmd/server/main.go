package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/jedi-chat-client/internal/api"
	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/llm"
	"gwi.com/jedi-chat-client/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()
	config.RequireServerSecrets()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.Debug() {
		log.Println("Development backend starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Gemini when GEMINI_API_KEY is set, the echo replier otherwise
	replier, err := llm.NewReplier(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize replier: %v", err)
	}
	defer replier.Close()
	log.Printf("Serving models %v", replier.Models())

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(dbStore, replier)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: reply streams stay open while the model generates.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
