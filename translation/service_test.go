package translation_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/form"
	"github.com/formvault/formvault/internal/testdb"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/translation"
	"github.com/formvault/formvault/version"
)

func publishFixture(t *testing.T, db *sql.DB) (model.FormVersion, *translation.Service) {
	t.Helper()
	ctx := context.Background()

	draft := model.Form{
		Title:              "Feedback",
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en", "it"},
		Sections: []model.Section{
			{Key: "main", Title: "Main", Fields: []model.Field{
				{Key: "mood", Type: "select", Label: "How do you feel?", Help: "Pick one", Options: []model.Option{
					{Value: "good", Label: "Good"},
					{Value: "bad", Label: "Bad"},
				}},
				{Key: "details", Type: "textarea", Label: "Tell us more"},
			}},
		},
	}
	f, err := form.NewStore(db).Create(ctx, draft, "tester")
	require.NoError(t, err)

	versions := version.NewService(db, 3)
	v, err := versions.Publish(ctx, f.ID, version.BumpPatch, true, "tester")
	require.NoError(t, err)

	return v, translation.NewService(db, versions)
}

func italianOverlay() model.TranslationOverlay {
	return model.TranslationOverlay{
		"mood": {
			Label: "Come ti senti?",
			Help:  "Scegline uno",
			OptionLabels: map[string]string{
				"good": "Bene",
				"bad":  "Male",
			},
		},
	}
}

func TestSetAndResolveOverlay(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)

	require.NoError(t, svc.Set(ctx, v.ID, "it", italianOverlay(), "tester"))

	def, err := svc.Resolve(ctx, v.ID, "it", false)
	require.NoError(t, err)
	assert.Equal(t, "it", def.Language)

	mood := def.Sections[0].Fields[0]
	assert.Equal(t, "Come ti senti?", mood.Label)
	assert.Equal(t, "Scegline uno", mood.Help)
	assert.Equal(t, "Bene", mood.Options[0].Label)
	assert.Equal(t, "Male", mood.Options[1].Label)
	// structure is presentation-only overridden
	assert.Equal(t, "good", mood.Options[0].Value)
	assert.Equal(t, "select", mood.Type)

	// keys without an overlay keep their base text
	assert.Equal(t, "Tell us more", def.Sections[0].Fields[1].Label)
}

func TestResolveDefaultLanguageReturnsBase(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)

	require.NoError(t, svc.Set(ctx, v.ID, "it", italianOverlay(), "tester"))

	for _, lang := range []string{"", "en"} {
		def, err := svc.Resolve(ctx, v.ID, lang, false)
		require.NoError(t, err)
		assert.Equal(t, "en", def.Language)
		assert.Equal(t, "How do you feel?", def.Sections[0].Fields[0].Label)
		assert.Equal(t, "Good", def.Sections[0].Fields[0].Options[0].Label)
	}
}

func TestResolveMissingOverlayFallsBack(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)

	def, err := svc.Resolve(ctx, v.ID, "it", false)
	require.NoError(t, err)
	assert.Equal(t, "How do you feel?", def.Sections[0].Fields[0].Label)

	_, err = svc.Resolve(ctx, v.ID, "it", true)
	require.Error(t, err)
	assert.Equal(t, errs.CodeUnsupportedLanguage, errs.CodeOf(err))
}

func TestSetRejectsUnsupportedLanguage(t *testing.T) {
	db := testdb.Open(t)
	v, svc := publishFixture(t, db)

	err := svc.Set(context.Background(), v.ID, "fr", italianOverlay(), "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestSetRejectsUnknownFieldKey(t *testing.T) {
	db := testdb.Open(t)
	v, svc := publishFixture(t, db)

	overlay := model.TranslationOverlay{"no_such_field": {Label: "?"}}
	err := svc.Set(context.Background(), v.ID, "it", overlay, "tester")
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestSetReplacesExistingOverlay(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)

	require.NoError(t, svc.Set(ctx, v.ID, "it", italianOverlay(), "tester"))
	require.NoError(t, svc.Set(ctx, v.ID, "it", model.TranslationOverlay{
		"details": {Label: "Raccontaci di più"},
	}, "tester"))

	def, err := svc.Resolve(ctx, v.ID, "it", false)
	require.NoError(t, err)
	// the overlay was replaced wholesale, not merged with the previous one
	assert.Equal(t, "How do you feel?", def.Sections[0].Fields[0].Label)
	assert.Equal(t, "Raccontaci di più", def.Sections[0].Fields[1].Label)

	langs, err := svc.Languages(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"it"}, langs)
}

func TestResolveNeverMutatesTheVersion(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)
	versions := version.NewService(db, 3)

	require.NoError(t, svc.Set(ctx, v.ID, "it", italianOverlay(), "tester"))

	first, err := svc.Resolve(ctx, v.ID, "it", false)
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, v.ID, "it", false)
	require.NoError(t, err)
	assert.Equal(t, first, second, "resolution must be deterministic")

	base, err := versions.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Sections, base.Sections, "base structure must stay untouched")
	assert.Equal(t, "How do you feel?", base.Sections[0].Fields[0].Label)
}

func TestLanguageEnabledAfterPublishCanBeTranslated(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	v, svc := publishFixture(t, db)
	store := form.NewStore(db)

	// the language set is checked at overlay write time, not frozen at
	// version creation
	f, err := store.Get(ctx, v.FormID)
	require.NoError(t, err)
	f.SupportedLanguages = append(f.SupportedLanguages, "de")
	_, err = store.Update(ctx, f, "tester")
	require.NoError(t, err)

	err = svc.Set(ctx, v.ID, "de", model.TranslationOverlay{
		"mood": {Label: "Wie fühlst du dich?"},
	}, "tester")
	require.NoError(t, err)

	def, err := svc.Resolve(ctx, v.ID, "de", false)
	require.NoError(t, err)
	assert.Equal(t, "Wie fühlst du dich?", def.Sections[0].Fields[0].Label)
}
