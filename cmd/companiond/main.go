package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wakeguard/companion/internal/auth"
	"github.com/wakeguard/companion/internal/config"
	"github.com/wakeguard/companion/internal/consumer"
	"github.com/wakeguard/companion/internal/db"
	"github.com/wakeguard/companion/internal/handlers"
	"github.com/wakeguard/companion/internal/middleware"
	"github.com/wakeguard/companion/internal/notify"
)

// tokenIdentity resolves the observer behind a fixed session token. The
// dashboard shell passes its own token; an empty or expired one degrades the
// consumer to an empty tracked set.
type tokenIdentity struct {
	svc   *auth.Service
	token string
}

func (t tokenIdentity) CurrentUserID(ctx context.Context) (string, error) {
	return t.svc.SessionUserID(t.token)
}

func main() {
	cfg := config.Load()

	client, err := db.ConnectMongo()
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	database := client.Database(cfg.MongoDB)

	statusColl := database.Collection("subject_status")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.EnsureStatusIndexes(ctx, statusColl); err != nil {
		log.WithError(err).Fatal("Failed to create status indexes")
	}
	cancel()

	broker, err := notify.Connect(cfg.BrokerURL, "companiond-"+hostname())
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer broker.Close()

	authService, err := auth.NewService()
	if err != nil {
		log.WithError(err).Fatal("Failed to create auth service")
	}

	users := &db.MongoUserCollection{Collection: database.Collection("users")}
	statuses := &db.MongoStatusCollection{Collection: statusColl}
	warnings := &db.MongoWarningCollection{Collection: database.Collection("warnings")}
	links := &db.MongoLinkCollection{Collection: database.Collection("links")}

	cons := consumer.New(consumer.Deps{
		Identity: tokenIdentity{svc: authService, token: os.Getenv("OBSERVER_TOKEN")},
		Links:    links,
		Users:    users,
		Statuses: statuses,
		Warnings: warnings,
		Broker:   broker,
	}, consumer.Options{
		LocationWindow: cfg.LocationWindow,
		WarningWindow:  cfg.WarningWindow,
		EvalTick:       cfg.EvalTick,
	})

	attachCtx, attachCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := cons.Attach(attachCtx); err != nil {
		log.WithError(err).Fatal("Failed to attach consumer")
	}
	attachCancel()
	defer cons.Close()

	authHandler := handlers.NewAuthHandler(authService, users)
	dashboard := handlers.NewDashboardHandler(cons)
	authMW := middleware.NewAuthMiddleware(authService)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/subjects", dashboard.Subjects)
	mux.HandleFunc("/api/badges", dashboard.Badges)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: authMW.Authenticate(mux),
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown failed")
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return h
}
