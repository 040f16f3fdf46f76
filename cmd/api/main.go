package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docket/api/internal/app"
	"docket/api/internal/config"
	"docket/api/internal/exhibits"
	"docket/api/internal/export"
	"docket/api/internal/notes"
	"docket/api/internal/realtime"
	"docket/api/internal/search"
	"docket/api/internal/store"
)

const presenceTTL = 2 * time.Minute

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.NotesDir, 0o755); err != nil {
		log.Fatalf("failed to create notes dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	broker, err := realtime.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer broker.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	var exhibitService *exhibits.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		exhibitService, err = exhibits.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set; exhibit file storage disabled")
	}

	noteService := notes.New(cfg.NotesDir)
	exporter := export.NewService(&exportStore{store: dataStore})

	service := app.NewService(cfg, dataStore, db, broker, searchService, exhibitService, noteService, exporter)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go presenceJanitor(janitorCtx, dataStore)

	go func() {
		log.Printf("Docket API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	service.Close(shutdownCtx)
}

// presenceJanitor drops presence rows whose heartbeat stopped, so users who
// closed their browser do not linger as online.
func presenceJanitor(ctx context.Context, st *store.PostgresStore) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := st.ExpirePresence(ctx, presenceTTL)
			if err != nil {
				log.Printf("presence janitor: %v", err)
				continue
			}
			if expired > 0 {
				log.Printf("presence janitor: expired %d stale entries", expired)
			}
		}
	}
}

// exportStore adapts the Postgres store to the exporter's read interface.
type exportStore struct {
	store *store.PostgresStore
}

func (e *exportStore) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        doc.ID,
		MatterID:  doc.MatterID,
		Title:     doc.Title,
		Body:      doc.Body,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (e *exportStore) GetMatter(ctx context.Context, id string) (export.MatterInfo, error) {
	matter, err := e.store.GetMatter(ctx, id)
	if err != nil {
		return export.MatterInfo{}, err
	}
	return export.MatterInfo{
		ID:         matter.ID,
		Title:      matter.Title,
		ClientName: matter.ClientName,
	}, nil
}

func (e *exportStore) ListComments(ctx context.Context, documentID string) ([]export.CommentInfo, error) {
	comments, err := e.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]export.CommentInfo, 0, len(comments))
	for _, c := range comments {
		out = append(out, export.CommentInfo{
			ID:         c.ID,
			ParentID:   c.ParentID,
			AuthorName: c.AuthorName,
			Body:       c.Body,
			Resolved:   c.Resolved,
			ResolvedBy: c.ResolvedBy,
			CreatedAt:  c.CreatedAt,
		})
	}
	return out, nil
}

var _ export.DataStore = (*exportStore)(nil)
