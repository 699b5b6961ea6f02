// Package version implements the snapshotter and the active-version pointer.
// Publishing freezes the current draft into an immutable form_version row;
// activation flips the single pointer respondents observe. Both are
// serialized per form: publish through the UNIQUE(form_id, version_string)
// constraint with bounded retries, activation through a single guarded
// UPDATE.
package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/log"
	"github.com/formvault/formvault/model"
)

type Bump string

const (
	BumpMajor Bump = "major"
	BumpMinor Bump = "minor"
	BumpPatch Bump = "patch"
)

// ParseBump maps a request value to a bump level, defaulting to patch.
func ParseBump(s string) (Bump, error) {
	switch Bump(s) {
	case BumpMajor, BumpMinor, BumpPatch:
		return Bump(s), nil
	case "":
		return BumpPatch, nil
	}
	return "", errs.Validation("unknown bump level %q", s)
}

const firstVersion = "1.0.0"

type Service struct {
	db      *sql.DB
	retries int
}

func NewService(db *sql.DB, retries int) *Service {
	if retries < 0 {
		retries = 0
	}
	return &Service{db: db, retries: retries}
}

// Publish freezes the form's current draft into a new immutable version.
// The snapshot write is atomic; when activate is requested and fails, the
// already-created version stays valid and inactive, and the activation error
// is reported alongside it.
func (s *Service) Publish(ctx context.Context, formID string, bump Bump, activate bool, actor string) (model.FormVersion, error) {
	var v model.FormVersion
	var err error
	for attempt := 0; ; attempt++ {
		v, err = s.snapshot(ctx, formID, bump, actor)
		if err == nil {
			break
		}
		if !retryable(err) {
			return model.FormVersion{}, err
		}
		if attempt >= s.retries {
			return model.FormVersion{}, errs.Wrap(errs.CodeConflict, err,
				"concurrent publishes on form %s exhausted %d retries", formID, s.retries)
		}
		log.Debugf("version.publish: collision on form %s, retrying (%d/%d)", formID, attempt+1, s.retries)
	}

	if activate {
		if err := s.Activate(ctx, formID, v.ID, actor); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (s *Service) snapshot(ctx context.Context, formID string, bump Bump, actor string) (model.FormVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FormVersion{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	// The draft's frozen copy is taken from the raw stored documents, so the
	// snapshot is byte-identical to what the author last saved.
	var sections, style, layout string
	err = tx.QueryRowContext(ctx,
		"SELECT sections, style, layout FROM form WHERE id = ?", formID,
	).Scan(&sections, &style, &layout)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FormVersion{}, errs.NotFound("form", formID)
	}
	if err != nil {
		return model.FormVersion{}, errs.Internal(err, "read draft")
	}

	next, err := s.nextVersionString(ctx, tx, formID, bump)
	if err != nil {
		return model.FormVersion{}, err
	}

	v := model.FormVersion{
		ID:            uuid.NewString(),
		FormID:        formID,
		VersionString: next,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO form_version (id, form_id, version_string, sections, style, layout, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FormID, v.VersionString, sections, style, layout, v.CreatedAt,
	)
	if err != nil {
		return model.FormVersion{}, errs.Internal(err, "insert version")
	}

	err = audit.RecordForm(ctx, tx, formID, model.EventVersionPublished, actor, map[string]any{
		"version_id":     v.ID,
		"version_string": v.VersionString,
	})
	if err != nil {
		return model.FormVersion{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.FormVersion{}, errs.Internal(err, "commit version")
	}

	if err = decodeDocuments(&v, sections, style, layout); err != nil {
		return model.FormVersion{}, err
	}
	log.Infof("version.publish: form %s version %s (%s)", formID, v.VersionString, v.ID)
	return v, nil
}

// nextVersionString bumps from the numerically highest existing version for
// the form, whatever bump level produced it. First publish is 1.0.0.
func (s *Service) nextVersionString(ctx context.Context, tx *sql.Tx, formID string, bump Bump) (string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT version_string FROM form_version WHERE form_id = ?", formID)
	if err != nil {
		return "", errs.Internal(err, "query versions")
	}
	defer rows.Close()

	var highest *semver.Version
	for rows.Next() {
		var raw string
		if err = rows.Scan(&raw); err != nil {
			return "", errs.Internal(err, "scan version")
		}
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			return "", errs.Internal(err, "stored version %q is not semver", raw)
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	if err = rows.Err(); err != nil {
		return "", errs.Internal(err, "iterate versions")
	}

	if highest == nil {
		return firstVersion, nil
	}

	var next semver.Version
	switch bump {
	case BumpMajor:
		next = highest.IncMajor()
	case BumpMinor:
		next = highest.IncMinor()
	default:
		next = highest.IncPatch()
	}
	return next.String(), nil
}

// Activate points respondents at versionID. Idempotent: re-activating the
// active version is a no-op that is still audited.
func (s *Service) Activate(ctx context.Context, formID, versionID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	var owner, versionString string
	err = tx.QueryRowContext(ctx,
		"SELECT form_id, version_string FROM form_version WHERE id = ?", versionID,
	).Scan(&owner, &versionString)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != formID) {
		return errs.NotFound("version", versionID)
	}
	if err != nil {
		return errs.Internal(err, "read version")
	}

	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT active_version_id FROM form WHERE id = ?", formID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("form", formID)
	}
	if err != nil {
		return errs.Internal(err, "read active pointer")
	}

	noop := current.Valid && current.String == versionID
	if !noop {
		_, err = tx.ExecContext(ctx,
			"UPDATE form SET active_version_id = ?, updated_at = ? WHERE id = ?",
			versionID, time.Now().UTC(), formID)
		if err != nil {
			return errs.Internal(err, "switch active pointer")
		}
	}

	err = audit.RecordForm(ctx, tx, formID, model.EventVersionActivated, actor, map[string]any{
		"version_id":     versionID,
		"version_string": versionString,
		"noop":           noop,
	})
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errs.Internal(err, "commit activation")
	}
	log.Infof("version.activate: form %s now serves %s (%s)", formID, versionString, versionID)
	return nil
}

// ResolveActive returns the version respondents currently see.
func (s *Service) ResolveActive(ctx context.Context, formID string) (model.FormVersion, error) {
	var active sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT active_version_id FROM form WHERE id = ?", formID,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FormVersion{}, errs.NotFound("form", formID)
	}
	if err != nil {
		return model.FormVersion{}, errs.Internal(err, "read active pointer")
	}
	if !active.Valid || active.String == "" {
		return model.FormVersion{}, errs.NoActiveVersion(formID)
	}
	return s.Get(ctx, active.String)
}

func (s *Service) Get(ctx context.Context, versionID string) (model.FormVersion, error) {
	var v model.FormVersion
	var sections, style, layout string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, version_string, sections, style, layout, created_at
		FROM form_version
		WHERE id = ?`,
		versionID,
	).Scan(&v.ID, &v.FormID, &v.VersionString, &sections, &style, &layout, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FormVersion{}, errs.NotFound("version", versionID)
	}
	if err != nil {
		return model.FormVersion{}, errs.Internal(err, "read version")
	}
	if err = decodeDocuments(&v, sections, style, layout); err != nil {
		return model.FormVersion{}, err
	}
	return v, nil
}

// List returns a form's versions in creation order.
func (s *Service) List(ctx context.Context, formID string) ([]model.FormVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, version_string, sections, style, layout, created_at
		FROM form_version
		WHERE form_id = ?
		ORDER BY rowid`,
		formID,
	)
	if err != nil {
		return nil, errs.Internal(err, "query versions")
	}
	defer rows.Close()

	versions := []model.FormVersion{}
	for rows.Next() {
		var v model.FormVersion
		var sections, style, layout string
		err = rows.Scan(&v.ID, &v.FormID, &v.VersionString, &sections, &style, &layout, &v.CreatedAt)
		if err != nil {
			return nil, errs.Internal(err, "scan version")
		}
		if err = decodeDocuments(&v, sections, style, layout); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func decodeDocuments(v *model.FormVersion, sections, style, layout string) error {
	for _, p := range []struct {
		col string
		dst any
	}{
		{sections, &v.Sections},
		{style, &v.Style},
		{layout, &v.Layout},
	} {
		if err := json.Unmarshal([]byte(p.col), p.dst); err != nil {
			return errs.Internal(err, "parse version document")
		}
	}
	return nil
}

// retryable reports whether a snapshot attempt lost a benign race: either a
// UNIQUE collision on (form_id, version_string) or a busy/locked database.
func retryable(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code {
	case sqlite3.ErrConstraint, sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	}
	return false
}
