package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"lendwise/api/database"
	"lendwise/api/handlers"
	"lendwise/api/middleware"
	"lendwise/api/store"
	"lendwise/api/tracking"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL (dashboard users + session records) ---
	var dbClient *database.DBClient
	if os.Getenv("SESSION_STORE") != "memory" {
		var err error
		dbClient, err = database.NewPostgresDB()
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer dbClient.Close()
	} else {
		log.Println("SESSION_STORE=memory: skipping PostgreSQL, sessions are in-process only")
	}

	// --- ClickHouse (raw event archive) ---
	// The archive is optional: without it, ingest still works and only the
	// event-granularity stats endpoints disappear.
	var eventArchive *store.EventArchive
	if os.Getenv("CLICKHOUSE_HOST") != "" {
		chClient, err := database.NewClickHouseDB()
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse database: %v", err)
		}
		defer chClient.Close()
		eventArchive = store.NewEventArchive(chClient)
	} else {
		log.Println("CLICKHOUSE_HOST not set: running without the raw event archive")
	}

	// --- Stores ---
	sessionStore, err := store.NewSessionStoreFromEnv(dbClient)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}

	// --- Tracking core ---
	trackingCfg := tracking.ConfigFromEnv()
	var archiver tracking.EventArchiver
	if eventArchive != nil {
		archiver = eventArchive
	}
	processor := tracking.NewProcessor(sessionStore, archiver, trackingCfg)

	// --- Handlers ---
	trackHandlers := handlers.NewTrackHandlers(processor)
	sessionHandlers := handlers.NewSessionHandlers(sessionStore, trackingCfg)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Tracking endpoints consumed by the site snippet; anonymous by design.
		track := api.Group("/track")
		{
			track.POST("", trackHandlers.TrackEvent)
			track.POST("/heartbeat", trackHandlers.Heartbeat)
			track.POST("/end", trackHandlers.EndSession)
		}

		// Dashboard authentication
		if dbClient != nil {
			authHandlers := handlers.NewAuthHandlers(store.NewUserStore(dbClient.DB))
			api.POST("/signup", authHandlers.Signup)
			api.POST("/login", authHandlers.Login)
			api.POST("/logout", authHandlers.Logout)
		}

		// Reporting endpoints (require a valid JWT token or API key)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/sessions", sessionHandlers.ListSessions)
			protected.GET("/sessions/active", sessionHandlers.ListActiveSessions)
			protected.GET("/sessions/:sessionId", sessionHandlers.GetSession)

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/overview", sessionHandlers.GetStatsOverview)

				if eventArchive != nil {
					archiveHandlers := handlers.NewArchiveHandlers(eventArchive)
					statsGroup.GET("/event-counts", archiveHandlers.GetEventCountsOverTime)
					statsGroup.GET("/unique-visitors", archiveHandlers.GetUniqueVisitorsOverTime)
					statsGroup.GET("/top-paths", archiveHandlers.GetTopPagePaths)
					statsGroup.GET("/average-time-spent", archiveHandlers.GetAverageTimeSpent)
				}
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Tracking API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Tracking API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
