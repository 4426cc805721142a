package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codezoo/codezoo/internal/pen"
)

// Defaults for new pens.
const (
	DefaultTitle = "Untitled Pen"
	DefaultHTML  = "<!-- Start building your pen -->"
	DefaultCSS   = "/* Add your styles */"
	DefaultJS    = "// Write JavaScript here"
)

// PenUpdate changes pen metadata. Nil fields are left alone; an empty Slug
// clears it.
type PenUpdate struct {
	Title      *string         `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Slug       *string         `json:"slug,omitempty" validate:"omitempty,max=100"`
	Visibility *pen.Visibility `json:"visibility,omitempty" validate:"omitempty,oneof=PRIVATE UNLISTED PUBLIC"`
}

// CreatePen creates a pen with starter sources as revision 1.
func (s *Store) CreatePen(ctx context.Context, ownerID string) (pen.Pen, error) {
	now := s.timestamp()
	p := pen.Pen{
		ID:         uuid.NewString(),
		Title:      DefaultTitle,
		Visibility: pen.Private,
		LatestRevision: pen.Revision{
			ID:            uuid.NewString(),
			RevNumber:     1,
			Kind:          pen.KindSnapshot,
			HTML:          DefaultHTML,
			CSS:           DefaultCSS,
			JS:            DefaultJS,
			Preprocessors: pen.DefaultSelection(),
			UpdatedAt:     now,
		},
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO pens (id, owner_id, title, slug, visibility, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, ownerID, p.Title, nil, string(p.Visibility), now, now)
		if err != nil {
			return err
		}
		return s.insertRevision(ctx, tx, p.ID, ownerID, p.LatestRevision)
	})
	if err != nil {
		return pen.Pen{}, fmt.Errorf("store: create pen: %w", err)
	}
	return p, nil
}

func (s *Store) insertRevision(ctx context.Context, tx *sql.Tx, penID, authorID string, rev pen.Revision) error {
	pre, err := json.Marshal(rev.Preprocessors.Normalize())
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, tx,
		`INSERT INTO pen_revisions (id, pen_id, author_id, rev_number, kind, html, css, js, preprocessors, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, penID, authorID, rev.RevNumber, string(rev.Kind), rev.HTML, rev.CSS, rev.JS, string(pre),
		rev.UpdatedAt, rev.UpdatedAt)
	return err
}

// ListPens returns the owner's pens, most recently updated first.
func (s *Store) ListPens(ctx context.Context, ownerID string) ([]pen.Summary, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, title, slug, visibility, updated_at FROM pens WHERE owner_id = ? ORDER BY updated_at DESC, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list pens: %w", err)
	}
	defer rows.Close()

	pens := []pen.Summary{}
	for rows.Next() {
		var p pen.Summary
		var slug sql.NullString
		var vis string
		if err := rows.Scan(&p.ID, &p.Title, &slug, &vis, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Slug = slug.String
		p.Visibility = pen.Visibility(vis)
		pens = append(pens, p)
	}
	return pens, rows.Err()
}

const penWithLatest = `SELECT p.id, p.title, p.slug, p.visibility,
	r.id, r.rev_number, r.kind, r.html, r.css, r.js, r.preprocessors, r.updated_at
	FROM pens p
	JOIN pen_revisions r ON r.pen_id = p.id
	WHERE %s
	ORDER BY r.rev_number DESC
	LIMIT 1`

func scanPen(row interface{ Scan(...any) error }) (pen.Pen, error) {
	var p pen.Pen
	var slug sql.NullString
	var vis, kind, pre string
	err := row.Scan(&p.ID, &p.Title, &slug, &vis,
		&p.LatestRevision.ID, &p.LatestRevision.RevNumber, &kind,
		&p.LatestRevision.HTML, &p.LatestRevision.CSS, &p.LatestRevision.JS, &pre,
		&p.LatestRevision.UpdatedAt)
	if err != nil {
		return pen.Pen{}, notFound(err)
	}
	p.Slug = slug.String
	p.Visibility = pen.Visibility(vis)
	p.LatestRevision.Kind = pen.RevisionKind(kind)
	if err := json.Unmarshal([]byte(pre), &p.LatestRevision.Preprocessors); err != nil {
		return pen.Pen{}, fmt.Errorf("store: pen %s has bad preprocessors: %w", p.ID, err)
	}
	p.LatestRevision.Preprocessors = p.LatestRevision.Preprocessors.Normalize()
	return p, nil
}

// PenForEditor returns a pen with its latest revision. Pens owned by someone
// else are reported as ErrNotFound.
func (s *Store) PenForEditor(ctx context.Context, ownerID, penID string) (pen.Pen, error) {
	return s.penForEditor(ctx, s.db, ownerID, penID)
}

func (s *Store) penForEditor(ctx context.Context, q queryer, ownerID, penID string) (pen.Pen, error) {
	if _, err := uuid.Parse(penID); err != nil {
		return pen.Pen{}, ErrNotFound
	}
	return scanPen(s.queryRow(ctx, q, fmt.Sprintf(penWithLatest, "p.id = ? AND p.owner_id = ?"), penID, ownerID))
}

// PublicPen returns a PUBLIC pen by slug.
func (s *Store) PublicPen(ctx context.Context, slug string) (pen.Pen, error) {
	if slug == "" {
		return pen.Pen{}, ErrNotFound
	}
	return scanPen(s.queryRow(ctx, s.db, fmt.Sprintf(penWithLatest, "p.slug = ? AND p.visibility = ?"),
		slug, string(pen.Public)))
}

// SaveRevision appends a revision numbered one past the latest and bumps
// the pen's updated_at, all in one transaction. The kind defaults to
// SNAPSHOT.
func (s *Store) SaveRevision(ctx context.Context, authorID string, in pen.RevisionInput) (pen.Pen, error) {
	kind := in.Kind
	if kind == "" {
		kind = pen.KindSnapshot
	}
	if !kind.Valid() {
		return pen.Pen{}, fmt.Errorf("store: unknown revision kind %q", kind)
	}

	var saved pen.Pen
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var latest sql.NullInt64
		err := s.queryRow(ctx, tx,
			`SELECT (SELECT MAX(rev_number) FROM pen_revisions WHERE pen_id = p.id) FROM pens p WHERE p.id = ? AND p.owner_id = ?`,
			in.PenID, authorID).Scan(&latest)
		if err != nil {
			return notFound(err)
		}

		now := s.timestamp()
		rev := pen.Revision{
			ID:            uuid.NewString(),
			RevNumber:     int(latest.Int64) + 1,
			Kind:          kind,
			HTML:          in.HTML,
			CSS:           in.CSS,
			JS:            in.JS,
			Preprocessors: in.Preprocessors.Normalize(),
			UpdatedAt:     now,
		}
		if err := s.insertRevision(ctx, tx, in.PenID, authorID, rev); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `UPDATE pens SET updated_at = ? WHERE id = ?`, now, in.PenID); err != nil {
			return err
		}

		saved, err = s.penForEditor(ctx, tx, authorID, in.PenID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return pen.Pen{}, err
		}
		return pen.Pen{}, fmt.Errorf("store: save revision: %w", err)
	}
	return saved, nil
}

// UpdatePen changes a pen's title, slug or visibility.
func (s *Store) UpdatePen(ctx context.Context, ownerID, penID string, upd PenUpdate) (pen.Pen, error) {
	var sets []string
	var args []any
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*upd.Title))
	}
	if upd.Slug != nil {
		sets = append(sets, "slug = ?")
		args = append(args, nullString(strings.TrimSpace(*upd.Slug)))
	}
	if upd.Visibility != nil {
		sets = append(sets, "visibility = ?")
		args = append(args, string(*upd.Visibility))
	}
	if len(sets) == 0 {
		return s.PenForEditor(ctx, ownerID, penID)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.timestamp(), penID, ownerID)

	var updated pen.Pen
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if upd.Slug != nil && *upd.Slug != "" {
			var other string
			err := s.queryRow(ctx, tx, `SELECT id FROM pens WHERE slug = ? AND id <> ?`,
				strings.TrimSpace(*upd.Slug), penID).Scan(&other)
			if err == nil {
				return ErrConflict
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		res, err := s.exec(ctx, tx,
			`UPDATE pens SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		updated, err = s.penForEditor(ctx, tx, ownerID, penID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return pen.Pen{}, err
		}
		return pen.Pen{}, fmt.Errorf("store: update pen: %w", err)
	}
	return updated, nil
}

// DeletePen removes a pen and its revisions.
func (s *Store) DeletePen(ctx context.Context, ownerID, penID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Revisions first; foreign_keys may be off in a user-supplied DSN.
		if _, err := s.exec(ctx, tx,
			`DELETE FROM pen_revisions WHERE pen_id IN (SELECT id FROM pens WHERE id = ? AND owner_id = ?)`,
			penID, ownerID); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, `DELETE FROM pens WHERE id = ? AND owner_id = ?`, penID, ownerID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
