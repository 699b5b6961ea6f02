// Package form is the draft store: the single mutable working definition per
// form. Publishing freezes a draft into a version (see the version package);
// edits here never touch already-published versions.
package form

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/model"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, f model.Form, actor string) (model.Form, error) {
	normalize(&f)
	if err := checkStructure(f); err != nil {
		return model.Form{}, err
	}

	f.ID = uuid.NewString()
	f.Revision = 1
	f.CreatedAt = time.Now().UTC()
	f.UpdatedAt = f.CreatedAt

	doc, err := marshalDoc(f)
	if err != nil {
		return model.Form{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Form{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO form (id, title, description, sections, style, layout,
			supported_languages, default_language, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Title, f.Description, doc.sections, doc.style, doc.layout,
		doc.languages, f.DefaultLanguage, f.Revision, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return model.Form{}, errs.Internal(err, "insert form")
	}

	err = audit.RecordForm(ctx, tx, f.ID, model.EventFormCreated, actor, map[string]any{
		"title": f.Title,
	})
	if err != nil {
		return model.Form{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.Form{}, errs.Internal(err, "commit form")
	}
	return f, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Form, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, sections, style, layout,
			supported_languages, default_language, active_version_id,
			revision, created_at, updated_at
		FROM form
		WHERE id = ?`,
		id,
	)
	return scanForm(row, id)
}

func (s *Store) List(ctx context.Context) ([]model.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, supported_languages, default_language,
			active_version_id, revision, created_at, updated_at
		FROM form
		ORDER BY created_at`)
	if err != nil {
		return nil, errs.Internal(err, "query forms")
	}
	defer rows.Close()

	forms := []model.Form{}
	for rows.Next() {
		var f model.Form
		var languages string
		var activeVersion sql.NullString
		err = rows.Scan(&f.ID, &f.Title, &f.Description, &languages, &f.DefaultLanguage,
			&activeVersion, &f.Revision, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return nil, errs.Internal(err, "scan form")
		}
		f.ActiveVersionID = activeVersion.String
		if err = json.Unmarshal([]byte(languages), &f.SupportedLanguages); err != nil {
			return nil, errs.Internal(err, "parse form languages")
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// Update overwrites the draft definition. The caller must send back the
// revision it read; a stale revision loses the race and gets a conflict.
func (s *Store) Update(ctx context.Context, f model.Form, actor string) (model.Form, error) {
	normalize(&f)
	if err := checkStructure(f); err != nil {
		return model.Form{}, err
	}

	doc, err := marshalDoc(f)
	if err != nil {
		return model.Form{}, err
	}
	f.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Form{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE form
		SET title = ?, description = ?, sections = ?, style = ?, layout = ?,
			supported_languages = ?, default_language = ?,
			revision = revision+1, updated_at = ?
		WHERE id = ?
			AND revision = ?`,
		f.Title, f.Description, doc.sections, doc.style, doc.layout,
		doc.languages, f.DefaultLanguage, f.UpdatedAt,
		f.ID, f.Revision,
	)
	if err != nil {
		return model.Form{}, errs.Internal(err, "update form")
	}
	// optimistic lock
	n, err := res.RowsAffected()
	if err != nil {
		return model.Form{}, errs.Internal(err, "update form verify")
	}
	if n < 1 {
		var exists bool
		err = tx.QueryRowContext(ctx, "SELECT 1 FROM form WHERE id = ?", f.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Form{}, errs.NotFound("form", f.ID)
		}
		if err != nil {
			return model.Form{}, errs.Internal(err, "read form")
		}
		return model.Form{}, errs.Conflict("form %s was modified concurrently (stale revision %d)", f.ID, f.Revision)
	}
	f.Revision++

	err = audit.RecordForm(ctx, tx, f.ID, model.EventFormUpdated, actor, map[string]any{
		"revision": f.Revision,
	})
	if err != nil {
		return model.Form{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.Form{}, errs.Internal(err, "commit form update")
	}
	return f, nil
}

// Delete removes a draft that has never been published. Forms with versions
// are retained indefinitely for historical response integrity.
func (s *Store) Delete(ctx context.Context, id, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	var versions int
	err = tx.QueryRowContext(ctx,
		"SELECT count(*) FROM form_version WHERE form_id = ?", id,
	).Scan(&versions)
	if err != nil {
		return errs.Internal(err, "count versions")
	}
	if versions > 0 {
		return errs.Conflict("form %s has published versions and cannot be deleted", id)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM form WHERE id = ?", id)
	if err != nil {
		return errs.Internal(err, "delete form")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Internal(err, "delete form verify")
	}
	if n < 1 {
		return errs.NotFound("form", id)
	}

	// the audit trail outlives the form row
	err = audit.RecordForm(ctx, tx, id, model.EventFormDeleted, actor, map[string]any{})
	if err != nil {
		return err
	}

	return tx.Commit()
}

func normalize(f *model.Form) {
	if f.DefaultLanguage == "" {
		f.DefaultLanguage = "en"
	}
	for _, lang := range f.SupportedLanguages {
		if lang == f.DefaultLanguage {
			return
		}
	}
	f.SupportedLanguages = append(f.SupportedLanguages, f.DefaultLanguage)
}

func checkStructure(f model.Form) error {
	if f.Title == "" {
		return errs.Validation("form title must not be empty")
	}
	fieldKeys := map[string]bool{}
	sectionKeys := map[string]bool{}
	for _, sec := range f.Sections {
		if sec.Key == "" {
			return errs.Validation("section key must not be empty")
		}
		if sectionKeys[sec.Key] {
			return errs.Validation("duplicate section key %q", sec.Key)
		}
		sectionKeys[sec.Key] = true

		for _, fld := range sec.Fields {
			if fld.Key == "" {
				return errs.Validation("field key must not be empty (section %q)", sec.Key)
			}
			if fieldKeys[fld.Key] {
				return errs.Validation("duplicate field key %q", fld.Key)
			}
			fieldKeys[fld.Key] = true
			if fld.Type == "" {
				return errs.Validation("field %q has no type", fld.Key)
			}
		}
	}
	return nil
}

type formDoc struct {
	sections, style, layout, languages string
}

func marshalDoc(f model.Form) (doc formDoc, err error) {
	sections := f.Sections
	if sections == nil {
		sections = []model.Section{}
	}
	style := f.Style
	if style == nil {
		style = map[string]any{}
	}
	layout := f.Layout
	if layout == nil {
		layout = map[string]any{}
	}

	parts := []struct {
		dst *string
		src any
	}{
		{&doc.sections, sections},
		{&doc.style, style},
		{&doc.layout, layout},
		{&doc.languages, f.SupportedLanguages},
	}
	for _, p := range parts {
		var raw []byte
		raw, err = json.Marshal(p.src)
		if err != nil {
			err = errs.Internal(err, "marshal form document")
			return
		}
		*p.dst = string(raw)
	}
	return
}

func scanForm(row *sql.Row, id string) (model.Form, error) {
	var f model.Form
	var sections, style, layout, languages string
	var activeVersion sql.NullString
	err := row.Scan(&f.ID, &f.Title, &f.Description, &sections, &style, &layout,
		&languages, &f.DefaultLanguage, &activeVersion,
		&f.Revision, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Form{}, errs.NotFound("form", id)
	}
	if err != nil {
		return model.Form{}, errs.Internal(err, "scan form")
	}
	f.ActiveVersionID = activeVersion.String

	for _, p := range []struct {
		col string
		dst any
	}{
		{sections, &f.Sections},
		{style, &f.Style},
		{layout, &f.Layout},
		{languages, &f.SupportedLanguages},
	} {
		if err = json.Unmarshal([]byte(p.col), p.dst); err != nil {
			return model.Form{}, errs.Internal(err, "parse form document")
		}
	}
	return f, nil
}
