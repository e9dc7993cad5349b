package postgres

import (
	"context"
	"fmt"

	"github.com/hrix/bioenroll/internal/pkg/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

// InsertTemplate inserts a new template row. Rows are append-only,
// the uniqueness pre-check happens in the orchestrator before capture.
func (db *DB) InsertTemplate(ctx context.Context, t *persistence.Template) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO finger_templates(fuid, user_id, finger_id, name, template, image, created)
	VALUES($1, $2, $3, $4, $5, $6, now())`, t.FUID, t.UserID, t.FingerID, t.Name, t.Template, t.Image)
	if err != nil {
		return fmt.Errorf("can't insert template: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadTemplateInfo loads the template summary for one finger slot.
// Returns nil without error when no row exists.
func (db *DB) LoadTemplateInfo(ctx context.Context, userID, fingerID int) (*persistence.TemplateInfo, error) {
	var res persistence.TemplateInfo
	err := db.pool.QueryRow(ctx, `SELECT fuid, user_id, finger_id, name,
	coalesce(octet_length(template), 0), coalesce(octet_length(image), 0), created
	FROM finger_templates
		WHERE user_id = $1 AND finger_id = $2`, userID, fingerID).Scan(&res.FUID, &res.UserID,
		&res.FingerID, &res.Name, &res.TemplateSize, &res.ImageSize, &res.Created)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load template info: %w", err)
	}
	return &res, nil
}

// ListTemplates loads summaries of all valid templates of a user
func (db *DB) ListTemplates(ctx context.Context, userID int) ([]persistence.TemplateInfo, error) {
	rows, err := db.pool.Query(ctx, `SELECT fuid, user_id, finger_id, name,
	octet_length(template), coalesce(octet_length(image), 0), created
	FROM finger_templates
		WHERE user_id = $1 AND template IS NOT NULL AND octet_length(template) > 0
		ORDER BY finger_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("can't load templates: %w", err)
	}
	defer rows.Close()
	var res []persistence.TemplateInfo
	for rows.Next() {
		var ti persistence.TemplateInfo
		if err := rows.Scan(&ti.FUID, &ti.UserID, &ti.FingerID, &ti.Name,
			&ti.TemplateSize, &ti.ImageSize, &ti.Created); err != nil {
			return nil, fmt.Errorf("can't scan template: %w", err)
		}
		res = append(res, ti)
	}
	return res, rows.Err()
}

// DeleteTemplate removes a template row, returns affected row count
func (db *DB) DeleteTemplate(ctx context.Context, userID, fingerID int) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM finger_templates
		WHERE user_id = $1 AND finger_id = $2`, userID, fingerID)
	if err != nil {
		return 0, fmt.Errorf("can't delete template: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LoadUserName loads the display name of a user.
// Returns empty string without error when the user is unknown.
func (db *DB) LoadUserName(ctx context.Context, userID int) (string, error) {
	var res string
	err := db.pool.QueryRow(ctx, `SELECT name FROM employees WHERE user_id = $1`, userID).Scan(&res)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("can't load user name: %w", err)
	}
	return res, nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'finger_templates')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
