// Package response binds submissions to the exact version they were answered
// against and drives the response lifecycle. The version binding is written
// once at creation and never changes, whatever later happens to the form, its
// active pointer, or the response itself.
package response

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/log"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/validate"
	"github.com/formvault/formvault/version"
)

type Service struct {
	db        *sql.DB
	versions  *version.Service
	validator *validate.Engine
}

func NewService(db *sql.DB, versions *version.Service, validator *validate.Engine) *Service {
	return &Service{db: db, versions: versions, validator: validator}
}

// Submit validates answers against the resolved version and persists a new
// response bound to it. An empty versionID resolves through the form's active
// pointer. Draft submissions skip required-field checks but are still bound
// to the resolved version.
func (s *Service) Submit(ctx context.Context, formID, versionID string, answers map[string]any, isDraft bool, actor string) (model.FormResponse, error) {
	v, err := s.resolveVersion(ctx, formID, versionID)
	if err != nil {
		return model.FormResponse{}, err
	}

	if answers == nil {
		answers = map[string]any{}
	}
	if err = s.validator.Answers(v.Sections, answers, isDraft); err != nil {
		return model.FormResponse{}, err
	}

	resp := model.FormResponse{
		ID:        uuid.NewString(),
		FormID:    formID,
		VersionID: v.ID,
		Answers:   answers,
		Status:    model.StatusSubmitted,
		IsDraft:   isDraft,
		CreatedAt: time.Now().UTC(),
	}
	if isDraft {
		resp.Status = model.StatusDraft
	}
	resp.UpdatedAt = resp.CreatedAt

	answersJson, err := json.Marshal(answers)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "marshal answers")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO form_response (id, form_id, version_id, answers, status, is_draft, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.FormID, resp.VersionID, string(answersJson),
		string(resp.Status), resp.IsDraft, resp.CreatedAt, resp.UpdatedAt,
	)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "insert response")
	}

	err = audit.RecordResponse(ctx, tx, resp.ID, model.EventCreated, actor, map[string]any{
		"answers":    answers,
		"version_id": resp.VersionID,
		"status":     resp.Status,
	})
	if err != nil {
		return model.FormResponse{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.FormResponse{}, errs.Internal(err, "commit response")
	}
	log.Debugf("response.submit: %s bound to version %s (%s)", resp.ID, v.VersionString, v.ID)
	return resp, nil
}

// Preview runs the validation path only; nothing is persisted.
func (s *Service) Preview(ctx context.Context, formID, versionID string, answers map[string]any, isDraft bool) error {
	v, err := s.resolveVersion(ctx, formID, versionID)
	if err != nil {
		return err
	}
	return s.validator.Answers(v.Sections, answers, isDraft)
}

func (s *Service) resolveVersion(ctx context.Context, formID, versionID string) (model.FormVersion, error) {
	if versionID == "" {
		return s.versions.ResolveActive(ctx, formID)
	}
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return model.FormVersion{}, err
	}
	if v.FormID != formID {
		return model.FormVersion{}, errs.NotFound("version", versionID)
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.FormResponse, error) {
	resp, _, err := s.get(ctx, id)
	return resp, err
}

// get also returns the stored answers column verbatim, so writers can guard
// their UPDATE against the exact bytes they diffed from.
func (s *Service) get(ctx context.Context, id string) (model.FormResponse, string, error) {
	var resp model.FormResponse
	var answers, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, version_id, answers, status, is_draft, created_at, updated_at
		FROM form_response
		WHERE id = ?`,
		id,
	).Scan(&resp.ID, &resp.FormID, &resp.VersionID, &answers, &status,
		&resp.IsDraft, &resp.CreatedAt, &resp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FormResponse{}, "", errs.NotFound("response", id)
	}
	if err != nil {
		return model.FormResponse{}, "", errs.Internal(err, "read response")
	}
	resp.Status = model.Status(status)
	if err = json.Unmarshal([]byte(answers), &resp.Answers); err != nil {
		return model.FormResponse{}, "", errs.Internal(err, "parse answers")
	}
	return resp, answers, nil
}

// List returns a form's responses, oldest first. Archived responses are
// excluded unless asked for; they stay retrievable by id either way.
func (s *Service) List(ctx context.Context, formID string, includeArchived bool) ([]model.FormResponse, error) {
	query := `
		SELECT id, form_id, version_id, answers, status, is_draft, created_at, updated_at
		FROM form_response
		WHERE form_id = ?`
	if !includeArchived {
		query += ` AND status != 'archived'`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, formID)
	if err != nil {
		return nil, errs.Internal(err, "query responses")
	}
	defer rows.Close()

	responses := []model.FormResponse{}
	for rows.Next() {
		var resp model.FormResponse
		var answers, status string
		err = rows.Scan(&resp.ID, &resp.FormID, &resp.VersionID, &answers, &status,
			&resp.IsDraft, &resp.CreatedAt, &resp.UpdatedAt)
		if err != nil {
			return nil, errs.Internal(err, "scan response")
		}
		resp.Status = model.Status(status)
		if err = json.Unmarshal([]byte(answers), &resp.Answers); err != nil {
			return nil, errs.Internal(err, "parse answers")
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// UpdateAnswers replaces the answer set of a draft or submitted response.
// The changed keys are recorded as an `updated` diff; a removed key appears
// in the diff as an explicit null.
func (s *Service) UpdateAnswers(ctx context.Context, id string, answers map[string]any, actor string) (model.FormResponse, error) {
	resp, stored, err := s.get(ctx, id)
	if err != nil {
		return model.FormResponse{}, err
	}
	if resp.Status != model.StatusDraft && resp.Status != model.StatusSubmitted {
		return model.FormResponse{}, errs.Conflict("response %s is %s and cannot be edited", id, resp.Status)
	}

	v, err := s.versions.Get(ctx, resp.VersionID)
	if err != nil {
		return model.FormResponse{}, err
	}
	if answers == nil {
		answers = map[string]any{}
	}
	if err = s.validator.Answers(v.Sections, answers, resp.IsDraft); err != nil {
		return model.FormResponse{}, err
	}

	changed := diffAnswers(resp.Answers, answers)
	if len(changed) == 0 {
		return resp, nil
	}

	answersJson, err := json.Marshal(answers)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "marshal answers")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	resp.Answers = answers
	resp.UpdatedAt = time.Now().UTC()
	// the diff is relative to `stored`; a concurrent edit that already
	// replaced the answers (or moved the status) makes this write stale
	res, err := tx.ExecContext(ctx,
		"UPDATE form_response SET answers = ?, updated_at = ? WHERE id = ? AND answers = ? AND status = ?",
		string(answersJson), resp.UpdatedAt, id, stored, string(resp.Status))
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "update answers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "update answers verify")
	}
	if n < 1 {
		return model.FormResponse{}, errs.Conflict("response %s was modified concurrently", id)
	}

	err = audit.RecordResponse(ctx, tx, id, model.EventUpdated, actor, map[string]any{
		"changed": changed,
	})
	if err != nil {
		return model.FormResponse{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.FormResponse{}, errs.Internal(err, "commit answers update")
	}
	return resp, nil
}

var transitions = map[model.Status][]model.Status{
	model.StatusDraft:     {model.StatusSubmitted},
	model.StatusSubmitted: {model.StatusApproved, model.StatusRejected, model.StatusArchived},
	model.StatusApproved:  {model.StatusArchived},
	model.StatusRejected:  {model.StatusArchived},
	model.StatusArchived:  {},
}

// ChangeStatus moves a response through the lifecycle state machine.
// Transitions out of archived are handled by Unarchive only. Promoting a
// draft to submitted re-validates the answers strictly against the bound
// version.
func (s *Service) ChangeStatus(ctx context.Context, id string, to model.Status, actor string) (model.FormResponse, error) {
	resp, err := s.Get(ctx, id)
	if err != nil {
		return model.FormResponse{}, err
	}

	if !allowed(resp.Status, to) {
		return model.FormResponse{}, errs.StateTransition(string(resp.Status), string(to))
	}

	if resp.Status == model.StatusDraft && to == model.StatusSubmitted {
		v, err := s.versions.Get(ctx, resp.VersionID)
		if err != nil {
			return model.FormResponse{}, err
		}
		if err = s.validator.Answers(v.Sections, resp.Answers, false); err != nil {
			return model.FormResponse{}, err
		}
	}

	event := model.EventStatusChanged
	if to == model.StatusArchived {
		event = model.EventArchived
	}

	return s.setStatus(ctx, resp, to, event, actor, map[string]any{
		"from": resp.Status,
		"to":   to,
	})
}

// Unarchive returns an archived response to the status it held immediately
// before archival, read back from the archival event in its history.
func (s *Service) Unarchive(ctx context.Context, id, actor string) (model.FormResponse, error) {
	resp, err := s.Get(ctx, id)
	if err != nil {
		return model.FormResponse{}, err
	}
	if resp.Status != model.StatusArchived {
		return model.FormResponse{}, errs.StateTransition(string(resp.Status), "unarchived")
	}

	entries, err := s.History(ctx, id)
	if err != nil {
		return model.FormResponse{}, err
	}
	var before model.Status
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].EventType == model.EventArchived {
			from, _ := entries[i].Payload["from"].(string)
			before = model.Status(from)
			break
		}
	}
	if before == "" {
		return model.FormResponse{}, errs.Internal(nil, "response %s has no archival event", id)
	}

	return s.setStatus(ctx, resp, before, model.EventRestored, actor, map[string]any{
		"from": model.StatusArchived,
		"to":   before,
	})
}

func (s *Service) setStatus(ctx context.Context, resp model.FormResponse, to model.Status, event model.EventType, actor string, payload map[string]any) (model.FormResponse, error) {
	from := resp.Status

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	resp.Status = to
	resp.UpdatedAt = time.Now().UTC()
	isDraft := resp.IsDraft && to == model.StatusDraft
	resp.IsDraft = isDraft

	// the transition was validated against `from`; the guard makes a
	// concurrent writer that already moved the status lose here
	res, err := tx.ExecContext(ctx,
		"UPDATE form_response SET status = ?, is_draft = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), isDraft, resp.UpdatedAt, resp.ID, string(from))
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "update status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "update status verify")
	}
	if n < 1 {
		var current string
		err = tx.QueryRowContext(ctx,
			"SELECT status FROM form_response WHERE id = ?", resp.ID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return model.FormResponse{}, errs.NotFound("response", resp.ID)
		}
		if err != nil {
			return model.FormResponse{}, errs.Internal(err, "read response status")
		}
		return model.FormResponse{}, errs.StateTransition(current, string(to))
	}

	if err = audit.RecordResponse(ctx, tx, resp.ID, event, actor, payload); err != nil {
		return model.FormResponse{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.FormResponse{}, errs.Internal(err, "commit status change")
	}
	return resp, nil
}

func allowed(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// History returns the response's audit trail, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return audit.ResponseHistory(ctx, s.db, id)
}

// Restore rewinds the answer set to the state it had at a past history entry
// by replaying the diff chain, and writes the result as the new current
// state. Intervening history is kept; a `restored` event is appended.
func (s *Service) Restore(ctx context.Context, id, entryID, actor string) (model.FormResponse, error) {
	resp, stored, err := s.get(ctx, id)
	if err != nil {
		return model.FormResponse{}, err
	}
	if resp.Status == model.StatusArchived {
		return model.FormResponse{}, errs.Conflict("response %s is archived and cannot be edited", id)
	}

	entries, err := audit.ResponseHistory(ctx, s.db, id)
	if err != nil {
		return model.FormResponse{}, err
	}

	answers, found := replayAnswers(entries, entryID)
	if !found {
		return model.FormResponse{}, errs.NotFound("history entry", entryID)
	}

	answersJson, err := json.Marshal(answers)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "marshal answers")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	resp.Answers = answers
	resp.UpdatedAt = time.Now().UTC()
	// replayed against the history as of `stored`; lose to concurrent writers
	res, err := tx.ExecContext(ctx,
		"UPDATE form_response SET answers = ?, updated_at = ? WHERE id = ? AND answers = ? AND status = ?",
		string(answersJson), resp.UpdatedAt, id, stored, string(resp.Status))
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "restore answers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.FormResponse{}, errs.Internal(err, "restore answers verify")
	}
	if n < 1 {
		return model.FormResponse{}, errs.Conflict("response %s was modified concurrently", id)
	}

	err = audit.RecordResponse(ctx, tx, id, model.EventRestored, actor, map[string]any{
		"history_entry_id": entryID,
		"answers":          answers,
	})
	if err != nil {
		return model.FormResponse{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.FormResponse{}, errs.Internal(err, "commit restore")
	}
	return resp, nil
}

// replayAnswers folds the diff chain up to and including the target entry.
// Full snapshots live in `created` and `restored` payloads; `updated`
// payloads carry only changed keys with null marking removal.
func replayAnswers(entries []model.HistoryEntry, targetID string) (map[string]any, bool) {
	answers := map[string]any{}
	for _, e := range entries {
		switch e.EventType {
		case model.EventCreated, model.EventRestored:
			if snapshot, ok := e.Payload["answers"].(map[string]any); ok {
				answers = map[string]any{}
				for k, v := range snapshot {
					answers[k] = v
				}
			}
		case model.EventUpdated:
			if changed, ok := e.Payload["changed"].(map[string]any); ok {
				for k, v := range changed {
					if v == nil {
						delete(answers, k)
					} else {
						answers[k] = v
					}
				}
			}
		}
		if e.ID == targetID {
			return answers, true
		}
	}
	return nil, false
}

func diffAnswers(before, after map[string]any) map[string]any {
	changed := map[string]any{}
	for k, v := range after {
		old, ok := before[k]
		if !ok || !jsonEqual(old, v) {
			changed[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed[k] = nil
		}
	}
	return changed
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}
