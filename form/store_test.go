package form_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/audit"
	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/form"
	"github.com/formvault/formvault/internal/testdb"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/version"
)

func draftFixture() model.Form {
	return model.Form{
		Title: "Registration",
		Sections: []model.Section{
			{Key: "main", Title: "Main", Fields: []model.Field{
				{Key: "name", Type: "text", Label: "Name", Required: true},
				{Key: "company", Type: "text", Label: "Company"},
			}},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	created, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Revision)
	// default language is filled in and added to the supported set
	assert.Equal(t, "en", created.DefaultLanguage)
	assert.Contains(t, created.SupportedLanguages, "en")

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Sections, got.Sections)
	assert.Empty(t, got.ActiveVersionID)
}

func TestGetUnknown(t *testing.T) {
	db := testdb.Open(t)
	store := form.NewStore(db)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestCreateRejectsBrokenStructure(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	dup := draftFixture()
	dup.Sections[0].Fields[1].Key = "name"
	_, err := store.Create(ctx, dup, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	untitled := draftFixture()
	untitled.Title = ""
	_, err = store.Create(ctx, untitled, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestUpdateOptimisticLock(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	f, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)

	f.Title = "Registration v2"
	updated, err := store.Update(ctx, f, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Revision)

	// the stale copy loses the race
	f.Title = "Registration v2 again"
	_, err = store.Update(ctx, f, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))

	got, err := store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Registration v2", got.Title)
}

func TestUpdateUnknownForm(t *testing.T) {
	db := testdb.Open(t)
	store := form.NewStore(db)

	f := draftFixture()
	f.ID = "missing"
	f.Revision = 1
	_, err := store.Update(context.Background(), f, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestDeleteOnlyBeforePublish(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	f, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, f.ID, "tester"))
	_, err = store.Get(ctx, f.ID)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	published, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)
	_, err = version.NewService(db, 3).Publish(ctx, published.ID, version.BumpPatch, false, "tester")
	require.NoError(t, err)

	err = store.Delete(ctx, published.ID, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestDeleteKeepsHistory(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	f, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, f.ID, "tester"))

	// the audit trail outlives the draft
	entries, err := audit.FormHistory(ctx, db, f.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EventFormCreated, entries[0].EventType)
	assert.Equal(t, model.EventFormDeleted, entries[1].EventType)
}

func TestList(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	store := form.NewStore(db)

	first, err := store.Create(ctx, draftFixture(), "tester")
	require.NoError(t, err)
	second := draftFixture()
	second.Title = "Second"
	_, err = store.Create(ctx, second, "tester")
	require.NoError(t, err)

	forms, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, first.ID, forms[0].ID)
}
