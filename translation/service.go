// Package translation layers per-language text overlays onto a published
// version. Overlays never touch the frozen base structure: resolution is a
// pure merge over the field keys, falling back to the base (default-language)
// text wherever an overlay has nothing to say.
package translation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/version"
)

type Service struct {
	db       *sql.DB
	versions *version.Service
}

func NewService(db *sql.DB, versions *version.Service) *Service {
	return &Service{db: db, versions: versions}
}

// Set stores or replaces the overlay for one (version, language) pair. The
// language is checked against the owning form's supported_languages as of
// now, not as of version creation, so languages enabled after publishing can
// still be translated.
func (s *Service) Set(ctx context.Context, versionID, lang string, overlay model.TranslationOverlay, actor string) error {
	if lang == "" {
		return errs.Validation("language code must not be empty")
	}

	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return err
	}

	var languages string
	err = s.db.QueryRowContext(ctx,
		"SELECT supported_languages FROM form WHERE id = ?", v.FormID,
	).Scan(&languages)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("form", v.FormID)
	}
	if err != nil {
		return errs.Internal(err, "read form languages")
	}
	var supported []string
	if err = json.Unmarshal([]byte(languages), &supported); err != nil {
		return errs.Internal(err, "parse form languages")
	}
	if !contains(supported, lang) {
		return errs.Validation("language %q is not enabled on form %s", lang, v.FormID)
	}

	if err = checkOverlayKeys(v, overlay); err != nil {
		return err
	}

	overlayJson, err := json.Marshal(overlay)
	if err != nil {
		return errs.Internal(err, "marshal overlay")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO form_version_translation (version_id, language_code, overlay, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (version_id, language_code) DO UPDATE
		SET overlay = excluded.overlay, updated_at = excluded.updated_at`,
		versionID, lang, string(overlayJson), time.Now().UTC(),
	)
	if err != nil {
		return errs.Internal(err, "store overlay")
	}

	err = audit.RecordForm(ctx, tx, v.FormID, model.EventTranslationsUpdated, actor, map[string]any{
		"version_id":    versionID,
		"language_code": lang,
		"keys":          len(overlay),
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Languages lists the language codes with an overlay on the version.
func (s *Service) Languages(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT language_code FROM form_version_translation
		WHERE version_id = ?
		ORDER BY language_code`,
		versionID,
	)
	if err != nil {
		return nil, errs.Internal(err, "query overlay languages")
	}
	defer rows.Close()

	langs := []string{}
	for rows.Next() {
		var lang string
		if err = rows.Scan(&lang); err != nil {
			return nil, errs.Internal(err, "scan overlay language")
		}
		langs = append(langs, lang)
	}
	return langs, rows.Err()
}

// Resolve merges the requested language over the version's frozen base
// structure. The empty language or the form's default language return the
// base unchanged. A missing overlay falls back to the base unless strict is
// set.
func (s *Service) Resolve(ctx context.Context, versionID, lang string, strict bool) (model.FormDefinition, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return model.FormDefinition{}, err
	}

	var defaultLang string
	err = s.db.QueryRowContext(ctx,
		"SELECT default_language FROM form WHERE id = ?", v.FormID,
	).Scan(&defaultLang)
	if err != nil {
		return model.FormDefinition{}, errs.Internal(err, "read form default language")
	}

	def := model.FormDefinition{
		FormID:        v.FormID,
		VersionID:     v.ID,
		VersionString: v.VersionString,
		Language:      defaultLang,
		Sections:      v.Sections,
		Style:         v.Style,
		Layout:        v.Layout,
	}
	if lang == "" || lang == defaultLang {
		return def, nil
	}

	var overlayJson string
	err = s.db.QueryRowContext(ctx, `
		SELECT overlay FROM form_version_translation
		WHERE version_id = ? AND language_code = ?`,
		versionID, lang,
	).Scan(&overlayJson)
	if errors.Is(err, sql.ErrNoRows) {
		if strict {
			return model.FormDefinition{}, errs.UnsupportedLanguage(lang)
		}
		return def, nil
	}
	if err != nil {
		return model.FormDefinition{}, errs.Internal(err, "read overlay")
	}

	var overlay model.TranslationOverlay
	if err = json.Unmarshal([]byte(overlayJson), &overlay); err != nil {
		return model.FormDefinition{}, errs.Internal(err, "parse overlay")
	}

	def.Language = lang
	def.Sections = Merge(v.Sections, overlay)
	return def, nil
}

// Merge applies overlay text over a deep copy of the base sections. Element
// type, required-ness, rules, option values and ordering all come from the
// base; only label, help and option labels can be overridden. Keys absent
// from the overlay keep their base text.
func Merge(base []model.Section, overlay model.TranslationOverlay) []model.Section {
	merged := make([]model.Section, len(base))
	for i, sec := range base {
		msec := sec
		msec.Fields = make([]model.Field, len(sec.Fields))
		for j, fld := range sec.Fields {
			mfld := fld
			mfld.Options = append([]model.Option(nil), fld.Options...)

			if o, ok := overlay[fld.Key]; ok {
				if o.Label != "" {
					mfld.Label = o.Label
				}
				if o.Help != "" {
					mfld.Help = o.Help
				}
				for k, opt := range mfld.Options {
					if label, ok := o.OptionLabels[opt.Value]; ok {
						mfld.Options[k].Label = label
					}
				}
			}
			msec.Fields[j] = mfld
		}
		merged[i] = msec
	}
	return merged
}

func checkOverlayKeys(v model.FormVersion, overlay model.TranslationOverlay) error {
	known := map[string]bool{}
	for _, sec := range v.Sections {
		for _, fld := range sec.Fields {
			known[fld.Key] = true
		}
	}
	for key := range overlay {
		if !known[key] {
			return errs.Validation("overlay key %q does not match any field of version %s", key, v.ID)
		}
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
