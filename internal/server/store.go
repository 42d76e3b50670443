package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"themis/internal/chatbot"
)

const intentSelectSQL = `
SELECT
  i.id,
  COALESCE(i.title, ''),
  COALESCE(i.patterns, '{}'::text[]),
  COALESCE(i.responses, '{}'::text[]),
  COALESCE(i.faq, false),
  COALESCE(i.usage_count, 0),
  i."updatedAt",
  COALESCE(
    json_agg(
      json_build_object('url', f.url, 'name', f.name, 'type', f.file_type)
      ORDER BY f.id
    ) FILTER (WHERE f.id IS NOT NULL),
    '[]'::json
  ) AS files
FROM intents i
LEFT JOIN intents_files f ON f.intent_id = i.id`

var errIntentNotFound = errors.New("intent not found")

func scanIntentRecords(rows pgx.Rows) ([]chatbot.IntentRecord, error) {
	defer rows.Close()
	records := make([]chatbot.IntentRecord, 0)
	for rows.Next() {
		var (
			rec   chatbot.IntentRecord
			files []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Patterns,
			&rec.Responses,
			&rec.FAQ,
			&rec.UsageCount,
			&rec.UpdatedAt,
			&files,
		); err != nil {
			return nil, err
		}
		rec.Files = make([]chatbot.FileRecord, 0)
		if len(files) > 0 {
			if err := json.Unmarshal(files, &rec.Files); err != nil {
				return nil, fmt.Errorf("decode files of intent %d: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func listIntentRecords(ctx context.Context, db dbQuerier) ([]chatbot.IntentRecord, error) {
	rows, err := db.Query(ctx, intentSelectSQL+`
GROUP BY i.id
ORDER BY i.id ASC`)
	if err != nil {
		return nil, err
	}
	return scanIntentRecords(rows)
}

func frequentIntentRecords(ctx context.Context, db dbQuerier, limit int) ([]chatbot.IntentRecord, error) {
	rows, err := db.Query(ctx, intentSelectSQL+`
GROUP BY i.id
ORDER BY COALESCE(i.usage_count, 0) DESC, i.id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanIntentRecords(rows)
}

func getIntentRecord(ctx context.Context, db dbQuerier, id int64) (chatbot.IntentRecord, error) {
	rows, err := db.Query(ctx, intentSelectSQL+`
WHERE i.id = $1
GROUP BY i.id`, id)
	if err != nil {
		return chatbot.IntentRecord{}, err
	}
	records, err := scanIntentRecords(rows)
	if err != nil {
		return chatbot.IntentRecord{}, err
	}
	if len(records) == 0 {
		return chatbot.IntentRecord{}, errIntentNotFound
	}
	return records[0], nil
}

func intentExists(ctx context.Context, db dbQuerier, id int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM intents WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func fileReferenced(ctx context.Context, db dbQuerier, location string) (bool, error) {
	var referenced bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM intents_files WHERE url = $1)`, location).Scan(&referenced)
	return referenced, err
}

// incrementUsage bumps the counter in a single statement so concurrent chats
// never lose an update.
func incrementUsage(ctx context.Context, db dbQuerier, id int64) (int64, error) {
	var count int64
	err := db.QueryRow(
		ctx,
		`UPDATE intents
		 SET usage_count = COALESCE(usage_count, 0) + 1
		 WHERE id = $1
		 RETURNING usage_count`,
		id,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errIntentNotFound
	}
	return count, err
}

func findUserByID(ctx context.Context, db dbQuerier, id int64) (AuthUser, error) {
	var user AuthUser
	err := db.QueryRow(
		ctx,
		`SELECT id, username, role FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.Role)
	user.Role = strings.ToLower(strings.TrimSpace(user.Role))
	return user, err
}

func findUserCredentials(ctx context.Context, db dbQuerier, username string) (AuthUser, string, error) {
	var (
		user AuthUser
		hash string
	)
	err := db.QueryRow(
		ctx,
		`SELECT id, username, role, password FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.Role, &hash)
	user.Role = strings.ToLower(strings.TrimSpace(user.Role))
	return user, hash, err
}

func insertUser(ctx context.Context, db dbQuerier, username, hash, role string) (AuthUser, error) {
	user := AuthUser{Username: username, Role: role}
	err := db.QueryRow(
		ctx,
		`INSERT INTO users (username, password, role) VALUES ($1, $2, $3) RETURNING id`,
		username,
		hash,
		role,
	).Scan(&user.ID)
	return user, err
}

// storeIntents feeds the chat engine straight from the database.
type storeIntents struct {
	app *App
}

func (s storeIntents) DynamicIntents(ctx context.Context, _ string) []chatbot.Intent {
	if s.app.db == nil {
		return nil
	}
	records, err := listIntentRecords(ctx, s.app.db)
	if err != nil {
		s.app.logger.Warn("dynamic intents unavailable; using built-ins only",
			zap.String("kind", "store"),
			zap.Error(err),
		)
		s.app.metrics.RecordFetchFailure(ctx, "store")
		return nil
	}
	return chatbot.FromRecords(records)
}

func (s storeIntents) IncrementUsage(ctx context.Context, id int64) (int64, error) {
	return incrementUsage(ctx, s.app.db, id)
}
