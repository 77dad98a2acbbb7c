package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	"marginalia/internal/config"
	"marginalia/internal/domain/models"
	"marginalia/internal/repository/postgres"
	"marginalia/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed demo data")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("🚫 BLOCKED: Cannot run --drop-tables in production environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log.Printf("🌱 Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Printf("🧨 Dropping tables with prefix %q", cfg.TablePrefix)
		if err := postgres.DropTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	log.Printf("🏗️  Schema ready")

	if *schemaOnly {
		return
	}

	repoConfig := &postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}
	noteRepo := postgres.NewNoteRepository(repoConfig)
	annotationRepo := postgres.NewAnnotationRepository(repoConfig)

	const owner = "dev-user"
	content := `# On Timing

The key factor is timing. Markets reward patience over cleverness, and
most plans fail by being early rather than wrong.

## Notes to self

- Expand the section on feedback loops.
- Find a better source for the patience claim.
`
	note := &models.Note{
		OwnerID:   owner,
		Title:     "On Timing",
		Content:   content,
		NoteType:  "article",
		WordCount: utils.CountWords(content),
	}
	if err := noteRepo.Create(ctx, note); err != nil {
		log.Fatalf("Failed to seed note: %v", err)
	}

	// One anchored root annotation over the opening claim.
	plain := utils.PlainText(content)
	span := "The key factor is timing."
	start := strings.Index(plain, span)
	if start < 0 {
		log.Fatalf("seed span %q not found in note text", span)
	}
	end := start + len(span)
	quoted := plain[start:end]
	root := &models.Annotation{
		ResourceID:  note.ID,
		OwnerID:     owner,
		Kind:        models.AnnotationKindAnchored,
		Status:      models.AnnotationStatusActive,
		Body:        "Is timing really the key factor, or just the most visible one?",
		StartOffset: &start,
		EndOffset:   &end,
		QuotedText:  &quoted,
	}
	if err := annotationRepo.Create(ctx, root); err != nil {
		log.Fatalf("Failed to seed annotation: %v", err)
	}

	reply := &models.Annotation{
		ResourceID:   note.ID,
		OwnerID:      owner,
		Kind:         models.AnnotationKindGeneral,
		Status:       models.AnnotationStatusActive,
		Body:         "Leaning towards visible. Rewrite with an example.",
		ThreadRootID: &root.ID,
		ThreadPrevID: &root.ID,
	}
	if err := annotationRepo.CreateReply(ctx, reply, root.ID); err != nil {
		log.Fatalf("Failed to seed reply: %v", err)
	}

	log.Printf("✅ Seeded note %s with one thread", note.ID)
}
