package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"themis/internal/db"
)

//go:embed seed_intents.yaml
var defaultSeedIntents []byte

type seedFile struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type seedIntent struct {
	Title     string     `yaml:"title"`
	FAQ       bool       `yaml:"faq"`
	Patterns  []string   `yaml:"patterns"`
	Responses []string   `yaml:"responses"`
	Files     []seedFile `yaml:"files"`
}

var (
	seedMode          string
	seedDatabaseURL   string
	seedAdminUser     string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert or remove sample data",
	Long: `Seeds an admin user and a handful of sample intents.

Intents are keyed by title: seeding replaces earlier copies, and
--mode cleanup removes them. The admin user is upserted only when
--admin-password is given.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedMode, "mode", "seed", "seed or cleanup")
	seedCmd.Flags().StringVar(&seedDatabaseURL, "db", "", "DATABASE_URL override")
	seedCmd.Flags().StringVar(&seedAdminUser, "admin-user", "admin", "Admin username")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "Admin password (skip admin when empty)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	intents, err := parseSeedIntents(defaultSeedIntents)
	if err != nil {
		return err
	}

	dbURL := strings.TrimSpace(seedDatabaseURL)
	if dbURL == "" {
		dbURL = cfg.DatabaseURL
	}
	if dbURL == "" {
		return errors.New("DATABASE_URL is required (or pass --db)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL, 2)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	switch strings.ToLower(strings.TrimSpace(seedMode)) {
	case "cleanup", "delete", "remove":
		var deleted int64
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			var err error
			deleted, err = deleteSeedIntents(ctx, tx, intents)
			return err
		})
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup complete", zap.Int64("deleted", deleted))
		fmt.Fprintf(cmd.OutOrStdout(), "cleanup complete deleted=%d\n", deleted)
		return nil
	case "seed":
	default:
		return fmt.Errorf("unsupported mode %q (use seed or cleanup)", seedMode)
	}

	var adminHash string
	if seedAdminPassword != "" {
		adminHash, err = hashPassword(seedAdminPassword, hashCost)
		if err != nil {
			return err
		}
	}

	var replaced, inserted int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var err error
		if replaced, err = deleteSeedIntents(ctx, tx, intents); err != nil {
			return err
		}
		for _, intent := range intents {
			if err := insertSeedIntent(ctx, tx, intent); err != nil {
				return fmt.Errorf("insert intent %q: %w", intent.Title, err)
			}
			inserted++
		}
		if adminHash == "" {
			return nil
		}
		_, err = tx.Exec(
			ctx,
			`INSERT INTO users (username, password, role) VALUES ($1, $2, 'admin')
			 ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password, role = 'admin'`,
			strings.TrimSpace(seedAdminUser),
			adminHash,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	logger.Info("seed complete",
		zap.Int64("inserted", inserted),
		zap.Int64("replaced", replaced),
		zap.Bool("admin", adminHash != ""),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "seed complete inserted=%d replaced=%d\n", inserted, replaced)
	return nil
}

func parseSeedIntents(data []byte) ([]seedIntent, error) {
	var intents []seedIntent
	if err := yaml.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("parse seed intents: %w", err)
	}
	for i, intent := range intents {
		if strings.TrimSpace(intent.Title) == "" {
			return nil, fmt.Errorf("seed intent %d: title is required", i)
		}
		if intents[i].Patterns == nil {
			intents[i].Patterns = []string{}
		}
		if intents[i].Responses == nil {
			intents[i].Responses = []string{}
		}
	}
	return intents, nil
}

func seedTitles(intents []seedIntent) []string {
	titles := make([]string, 0, len(intents))
	for _, intent := range intents {
		titles = append(titles, intent.Title)
	}
	return titles
}

func deleteSeedIntents(ctx context.Context, tx pgx.Tx, intents []seedIntent) (int64, error) {
	titles := seedTitles(intents)
	if _, err := tx.Exec(
		ctx,
		`DELETE FROM intents_files WHERE intent_id IN (SELECT id FROM intents WHERE title = ANY($1))`,
		titles,
	); err != nil {
		return 0, err
	}
	result, err := tx.Exec(ctx, `DELETE FROM intents WHERE title = ANY($1)`, titles)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func insertSeedIntent(ctx context.Context, tx pgx.Tx, intent seedIntent) error {
	var id int64
	err := tx.QueryRow(
		ctx,
		`INSERT INTO intents (title, patterns, responses, faq, usage_count, "updatedAt")
		 VALUES ($1, $2, $3, $4, 0, NOW())
		 RETURNING id`,
		intent.Title,
		intent.Patterns,
		intent.Responses,
		intent.FAQ,
	).Scan(&id)
	if err != nil {
		return err
	}
	for _, file := range intent.Files {
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO intents_files (intent_id, url, name, file_type) VALUES ($1, $2, $3, $4)`,
			id,
			file.URL,
			file.Name,
			file.Type,
		); err != nil {
			return err
		}
	}
	return nil
}
