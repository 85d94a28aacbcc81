package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"saathimed/internal/agent"
	"saathimed/internal/config"
	"saathimed/internal/consultation"
	"saathimed/internal/logging"
	"saathimed/internal/patient"
	"saathimed/internal/platform/telegram"
	"saathimed/internal/platform/whatsapp"
	"saathimed/internal/report"
	"saathimed/internal/triage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeRepo()

	var completer triage.Completer
	if cfg.AI.Strategy == triage.StrategyAI {
		completer = agent.NewClient(agent.Config{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
		})
	}
	classifier, err := triage.New(cfg.AI.Strategy, completer, triage.WithTimeout(cfg.AI.Timeout))
	if err != nil {
		return err
	}

	var sender consultation.Sender = whatsapp.NewLogSender()
	if cfg.WhatsApp.APIURL != "" {
		sender = whatsapp.NewClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.APIKey)
	}

	var reporter consultation.Reporter
	if cfg.Telegram.Enabled() {
		reporter = report.NewService(telegram.NewClient(cfg.Telegram.BotToken), cfg.Telegram.DoctorChatID)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set; doctor reports are disabled")
	}

	svc := consultation.NewService(repo, classifier, sender, reporter)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(consultation.NewHandler(svc)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "store", cfg.Store.Backend, "triage", cfg.AI.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(h *consultation.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", h.Health)
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, h)
	})
	return r
}

// cors opens the API to the doctor's browser extension.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func openRepository(ctx context.Context, cfg config.StoreConfig) (patient.Repository, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := patient.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return patient.NewPostgresRepository(db), func() { db.Close() }, nil

	case config.BackendFirestore:
		client, err := patient.OpenFirestore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return patient.NewFirestoreRepository(client, cfg.FirestoreCollection), func() { client.Close() }, nil

	default:
		logging.New("server").Warn("using in-memory store; records are lost on restart")
		return patient.NewMemoryRepository(), func() {}, nil
	}
}

// openPostgres waits for the database to accept connections.
func openPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log := logging.New("store")
	for i := 1; ; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			log.Info("connected to database")
			return db, nil
		}
		if i == 10 {
			break
		}
		log.Warn("waiting for database", "attempt", i, "error", err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	db.Close()
	return nil, fmt.Errorf("failed to connect to database: %w", err)
}
