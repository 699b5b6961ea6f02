// Package validate checks an answer set against the exact version structure
// it was answered against. Required and choice checks are structural;
// per-field rule expressions are compiled and run with expr-lang/expr.
package validate

import (
	"fmt"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/formvault/formvault/errs"
	"github.com/formvault/formvault/model"
)

type Engine struct {
	mu       sync.Mutex
	programs map[string]*exprvm.Program
}

func NewEngine() *Engine {
	return &Engine{programs: map[string]*exprvm.Program{}}
}

// Answers validates answers against the version's sections. Draft mode skips
// required checks (drafts may be incomplete) but still rejects unknown keys,
// bad choices and failing rules. All problems are reported in one error.
func (e *Engine) Answers(sections []model.Section, answers map[string]any, draft bool) error {
	fields := map[string]model.Field{}
	var issues []string

	for _, sec := range sections {
		for _, fld := range sec.Fields {
			fields[fld.Key] = fld

			value, present := answers[fld.Key]
			if !present || value == nil || value == "" {
				if fld.Required && !draft {
					issues = append(issues, fmt.Sprintf("field %q is required", fld.Key))
				}
				continue
			}

			if issue := checkChoice(fld, value); issue != "" {
				issues = append(issues, issue)
			}
			if fld.Rule != "" {
				if issue := e.checkRule(fld, value, answers); issue != "" {
					issues = append(issues, issue)
				}
			}
		}
	}

	for key := range answers {
		if _, ok := fields[key]; !ok {
			issues = append(issues, fmt.Sprintf("answer key %q does not match any field", key))
		}
	}

	if len(issues) > 0 {
		return errs.Validation("invalid answers: %s", strings.Join(issues, "; "))
	}
	return nil
}

func checkChoice(fld model.Field, value any) string {
	if len(fld.Options) == 0 {
		return ""
	}

	allowed := map[string]bool{}
	for _, opt := range fld.Options {
		allowed[opt.Value] = true
	}

	var chosen []string
	switch v := value.(type) {
	case string:
		chosen = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Sprintf("field %q has a non-string choice", fld.Key)
			}
			chosen = append(chosen, s)
		}
	default:
		return fmt.Sprintf("field %q expects option values", fld.Key)
	}

	for _, c := range chosen {
		if !allowed[c] {
			return fmt.Sprintf("field %q has no option %q", fld.Key, c)
		}
	}
	return ""
}

func (e *Engine) checkRule(fld model.Field, value any, answers map[string]any) string {
	program, err := e.compile(fld.Rule)
	if err != nil {
		return fmt.Sprintf("field %q has a broken rule: %v", fld.Key, err)
	}

	result, err := exprlang.Run(program, map[string]any{
		"value":   value,
		"answers": answers,
	})
	if err != nil {
		return fmt.Sprintf("field %q rule failed to evaluate: %v", fld.Key, err)
	}

	ok, isBool := result.(bool)
	if !isBool {
		return fmt.Sprintf("field %q rule did not return a boolean", fld.Key)
	}
	if !ok {
		return fmt.Sprintf("field %q failed its validation rule", fld.Key)
	}
	return ""
}

func (e *Engine) compile(rule string) (*exprvm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programs[rule]; ok {
		return program, nil
	}
	program, err := exprlang.Compile(rule,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	e.programs[rule] = program
	return program, nil
}
