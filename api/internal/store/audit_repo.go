package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// Entry is one classification attempt.
type Entry struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	RequestID   string    `json:"request_id"`
	Source      string    `json:"source"` // http | telegram
	Engine      string    `json:"engine"`
	Model       string    `json:"model"`
	ImageSHA256 string    `json:"image_sha256"`
	MediaType   string    `json:"media_type"`
	Size        int       `json:"size"`
	Status      int       `json:"status"`
	Result      string    `json:"result,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

const schema = `
create table if not exists classification_audit (
	id           bigserial primary key,
	created_at   timestamptz not null default now(),
	request_id   text not null default '',
	source       text not null,
	engine       text not null,
	model        text not null default '',
	image_sha256 text not null,
	media_type   text not null default '',
	size         integer not null default 0,
	status       integer not null,
	result       text,
	detail       text
);
create index if not exists classification_audit_created_at_idx on classification_audit (created_at desc);`

func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Record appends one row. Only the image digest is stored, never the bytes.
func (r *AuditRepo) Record(ctx context.Context, e Entry) error {
	const q = `
insert into classification_audit(request_id, source, engine, model, image_sha256, media_type, size, status, result, detail)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.DB.ExecContext(ctx, q,
		e.RequestID, e.Source, e.Engine, e.Model, e.ImageSHA256, e.MediaType, e.Size, e.Status,
		nullIfEmpty(e.Result), nullIfEmpty(e.Detail))
	return err
}

// Recent returns the newest entries first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `
select id, created_at, request_id, source, engine, model, image_sha256, media_type, size, status,
       coalesce(result,''), coalesce(detail,'')
from classification_audit
order by created_at desc, id desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.RequestID, &e.Source, &e.Engine, &e.Model,
			&e.ImageSHA256, &e.MediaType, &e.Size, &e.Status, &e.Result, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// ImageHash is the hex SHA-256 of the image bytes.
func ImageHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
