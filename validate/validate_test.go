package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/model"
	"github.com/formvault/formvault/validate"
)

func sections() []model.Section {
	return []model.Section{
		{Key: "main", Title: "Main", Fields: []model.Field{
			{Key: "name", Type: "text", Label: "Name", Required: true},
			{Key: "color", Type: "select", Label: "Color", Options: []model.Option{
				{Value: "red", Label: "Red"},
				{Value: "blue", Label: "Blue"},
			}},
			{Key: "tags", Type: "multiselect", Label: "Tags", Options: []model.Option{
				{Value: "a", Label: "A"},
				{Value: "b", Label: "B"},
			}},
			{Key: "age", Type: "number", Label: "Age", Rule: "value >= 18 and value < 130"},
			{Key: "other", Type: "text", Label: "Other", Rule: `answers.color == "red" ? value != "" : true`},
		}},
	}
}

func TestRequiredFields(t *testing.T) {
	e := validate.NewEngine()

	err := e.Answers(sections(), map[string]any{}, false)
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
	assert.Contains(t, err.Error(), `"name" is required`)

	require.NoError(t, e.Answers(sections(), map[string]any{"name": "Ada"}, false))
}

func TestDraftSkipsRequired(t *testing.T) {
	e := validate.NewEngine()
	require.NoError(t, e.Answers(sections(), map[string]any{}, true))

	// but a draft still cannot carry a bad choice
	err := e.Answers(sections(), map[string]any{"color": "green"}, true)
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestChoiceMembership(t *testing.T) {
	e := validate.NewEngine()

	require.NoError(t, e.Answers(sections(), map[string]any{
		"name":  "Ada",
		"color": "blue",
		"tags":  []any{"a", "b"},
	}, false))

	err := e.Answers(sections(), map[string]any{
		"name": "Ada",
		"tags": []any{"a", "z"},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no option "z"`)

	err = e.Answers(sections(), map[string]any{
		"name":  "Ada",
		"color": 7,
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects option values")
}

func TestUnknownAnswerKey(t *testing.T) {
	e := validate.NewEngine()

	err := e.Answers(sections(), map[string]any{
		"name":    "Ada",
		"unknown": "x",
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"unknown" does not match any field`)
}

func TestRuleExpressions(t *testing.T) {
	e := validate.NewEngine()

	require.NoError(t, e.Answers(sections(), map[string]any{
		"name": "Ada",
		"age":  36,
	}, false))

	err := e.Answers(sections(), map[string]any{
		"name": "Ada",
		"age":  7,
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed its validation rule")
}

func TestRuleSeesOtherAnswers(t *testing.T) {
	e := validate.NewEngine()

	// rule on "other" requires it to be non-empty only when color is red;
	// an empty value never reaches the rule, so red without "other" passes
	// the rule by absence but a filled "other" must satisfy it
	require.NoError(t, e.Answers(sections(), map[string]any{
		"name":  "Ada",
		"color": "red",
		"other": "something",
	}, false))

	require.NoError(t, e.Answers(sections(), map[string]any{
		"name":  "Ada",
		"color": "blue",
		"other": "anything",
	}, false))
}

func TestBrokenRule(t *testing.T) {
	e := validate.NewEngine()
	broken := []model.Section{
		{Key: "main", Title: "Main", Fields: []model.Field{
			{Key: "x", Type: "text", Label: "X", Rule: "value +"},
		}},
	}

	err := e.Answers(broken, map[string]any{"x": "hi"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken rule")
}

func TestNonBooleanRule(t *testing.T) {
	e := validate.NewEngine()
	weird := []model.Section{
		{Key: "main", Title: "Main", Fields: []model.Field{
			{Key: "x", Type: "text", Label: "X", Rule: "value"},
		}},
	}

	err := e.Answers(weird, map[string]any{"x": "hi"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not return a boolean")
}
