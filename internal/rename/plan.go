package rename

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// ErrInvalidPlan is wrapped by every PlanError
var ErrInvalidPlan = errors.New("invalid rename plan")

// Options controls how proposed names are generated
type Options struct {
	// Pattern is the new name without extension, e.g. "img###" or "$1-#"
	Pattern string `json:"pattern"`

	// Start is the number given to the first source
	Start int `json:"start"`

	// Filter is an optional regular expression matched against each name
	// (without extension for files); its groups feed $1..$9
	Filter string `json:"filter,omitempty"`
}

// Plan is a validated, ordered list of renames
type Plan struct {
	Pairs []job.RenamePair `json:"pairs"`
}

// Offender is one entry that makes a plan invalid
type Offender struct {
	Source string `json:"source"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// PlanError lists every entry that makes a plan invalid
type PlanError struct {
	Offenders []Offender `json:"offenders"`
}

// Error implements the error interface
func (e *PlanError) Error() string {
	parts := make([]string, 0, len(e.Offenders))
	for _, o := range e.Offenders {
		parts = append(parts, fmt.Sprintf("%s -> %s: %s", paths.Base(o.Source), o.Name, o.Reason))
	}
	return fmt.Sprintf("%v: %s", ErrInvalidPlan, strings.Join(parts, "; "))
}

// Unwrap classifies the failure for fserr
func (e *PlanError) Unwrap() error {
	return fserr.New(fserr.InvalidPlan, "plan", "", ErrInvalidPlan)
}

// Names returns the offending proposed names
func (e *PlanError) Names() []string {
	out := make([]string, 0, len(e.Offenders))
	for _, o := range e.Offenders {
		out = append(out, o.Name)
	}
	return out
}

// BuildPlan proposes a new name for each source, in order, and checks the
// result: names must be valid, distinct within the plan and free of every
// sibling that is not itself being renamed. Siblings are all entries of the
// sources' directories. Nothing touches the filesystem.
func BuildPlan(sources, siblings []types.Entry, opts Options) (Plan, error) {
	if len(sources) == 0 {
		return Plan{}, fserr.New(fserr.InvalidInput, "plan", "", errors.New("no sources"))
	}
	tokens, err := compile(opts.Pattern)
	if err != nil {
		return Plan{}, fserr.New(fserr.InvalidInput, "plan", "", err)
	}
	filter, err := compileFilter(opts.Filter, tokens)
	if err != nil {
		return Plan{}, fserr.New(fserr.InvalidInput, "plan", "", err)
	}

	renamed := make(map[string]bool, len(sources))
	for _, s := range sources {
		renamed[s.Path] = true
	}
	occupied := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		if !renamed[s.Path] {
			occupied[s.Path] = true
		}
	}

	var offenders []Offender
	plan := Plan{Pairs: make([]job.RenamePair, 0, len(sources))}
	targets := make(map[string][]int, len(sources))

	for i, src := range sources {
		if indexOf(sources[:i], src.Path) >= 0 {
			offenders = append(offenders, Offender{Source: src.Path, Name: src.Name, Reason: "listed twice"})
			continue
		}

		stem, ext := src.Name, ""
		if src.Kind != types.KindDirectory {
			stem, ext = paths.SplitExt(src.Name)
		}

		var groups []string
		if filter != nil {
			groups = filter.FindStringSubmatch(stem)
			if groups == nil {
				offenders = append(offenders, Offender{Source: src.Path, Name: src.Name, Reason: "does not match the filter"})
				continue
			}
		}

		name := render(tokens, opts.Start+i, groups) + ext
		if err := paths.ValidateName(name); err != nil {
			offenders = append(offenders, Offender{Source: src.Path, Name: name, Reason: err.Error()})
			continue
		}

		pair := job.RenamePair{Source: src.Path, NewName: name}
		target := pair.Target()
		if occupied[target] {
			offenders = append(offenders, Offender{Source: src.Path, Name: name, Reason: "collides with an existing entry"})
			continue
		}
		targets[target] = append(targets[target], len(plan.Pairs))
		plan.Pairs = append(plan.Pairs, pair)
	}

	for _, p := range plan.Pairs {
		if len(targets[p.Target()]) > 1 {
			offenders = append(offenders, Offender{Source: p.Source, Name: p.NewName, Reason: "duplicate name in plan"})
		}
	}

	if len(offenders) > 0 {
		return Plan{}, &PlanError{Offenders: offenders}
	}
	return plan, nil
}

func indexOf(entries []types.Entry, p string) int {
	for i, e := range entries {
		if e.Path == p {
			return i
		}
	}
	return -1
}

// SelectGlob returns the entries whose names match a doublestar pattern,
// keeping their order
func SelectGlob(entries []types.Entry, pattern string) ([]types.Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fserr.New(fserr.InvalidInput, "select", pattern, doublestar.ErrBadPattern)
	}
	var out []types.Entry
	for _, e := range entries {
		if ok, _ := doublestar.Match(pattern, e.Name); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Outcome summarizes how a plan's application went
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomePartial      Outcome = "partial"
	OutcomeTotalFailure Outcome = "total_failure"
)

// OutcomeOf classifies a finished bulk rename job
func OutcomeOf(r job.Result) Outcome {
	switch {
	case len(r.Failed) == 0 && len(r.Pending) == 0 && r.State == job.StateCompleted:
		return OutcomeSuccess
	case len(r.Completed) == 0:
		return OutcomeTotalFailure
	default:
		return OutcomePartial
	}
}
