package batch

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/lifecycle"
)

// ActionResult is the per-unit line of a Report.
type ActionResult struct {
	UnitName     string
	Succeeded    bool
	ErrorMessage string
}

// Report summarises one batch call. Succeeded + len(Failures) == Attempted.
type Report struct {
	Action    lifecycle.Action
	Kind      string
	Attempted int
	Succeeded int
	Failures  map[string]string
	Results   []ActionResult
	Outcomes  []lifecycle.Outcome
	Summary   string
}

func newReport(action lifecycle.Action, kind string, outcomes []lifecycle.Outcome) *Report {
	report := &Report{
		Action:    action,
		Kind:      kind,
		Attempted: len(outcomes),
		Failures:  make(map[string]string),
		Results:   make([]ActionResult, 0, len(outcomes)),
		Outcomes:  outcomes,
	}

	for _, outcome := range outcomes {
		result := ActionResult{UnitName: outcome.Name, Succeeded: outcome.Succeeded()}
		if outcome.Succeeded() {
			report.Succeeded++
		} else {
			result.ErrorMessage = failureText(outcome)
			report.Failures[outcome.Name] = result.ErrorMessage
		}
		report.Results = append(report.Results, result)
	}

	if len(outcomes) == 1 {
		report.Summary = singleSummary(kind, outcomes[0])
	} else {
		report.Summary = batchSummary(report)
	}
	return report
}

// Failed returns the names of failed units in processing order.
func (r *Report) Failed() []string {
	var names []string
	for _, result := range r.Results {
		if !result.Succeeded {
			names = append(names, result.UnitName)
		}
	}
	return names
}

func failureText(outcome lifecycle.Outcome) string {
	switch outcome.Status {
	case lifecycle.StatusAlreadyLoaded:
		return "already loaded"
	case lifecycle.StatusNotLoaded:
		return "not loaded"
	case lifecycle.StatusNotRegistered:
		return "not registered"
	case lifecycle.StatusCancelled:
		return "cancelled"
	default:
		if outcome.Err == nil {
			return "unknown failure"
		}
		return errors.HookCause(outcome.Err).Error()
	}
}

func singleSummary(kind string, outcome lifecycle.Outcome) string {
	verb := outcome.Action.String()
	switch outcome.Status {
	case lifecycle.StatusOK:
		past := outcome.Action.Past()
		if outcome.FellBack {
			past = lifecycle.Load.Past()
		}
		return fmt.Sprintf(":thumbsup: %s successfully %s: `%s`.", capitalize(kind), past, outcome.Name)
	case lifecycle.StatusAlreadyLoaded:
		return fmt.Sprintf(":x: %s `%s` is already loaded.", capitalize(kind), outcome.Name)
	case lifecycle.StatusNotLoaded:
		return fmt.Sprintf(":x: %s `%s` is not loaded.", capitalize(kind), outcome.Name)
	case lifecycle.StatusNotRegistered:
		return fmt.Sprintf(":x: Could not find the %s `%s`.", kind, outcome.Name)
	default:
		return fmt.Sprintf(":x: Failed to %s %s `%s`:\n```\n%s```", verb, kind, outcome.Name, failureText(outcome))
	}
}

func batchSummary(report *Report) string {
	if report.Attempted == 0 {
		return fmt.Sprintf(":x: There are no %ss to %s.", report.Kind, report.Action)
	}

	emoji := ":thumbsup:"
	if len(report.Failures) > 0 {
		emoji = ":x:"
	}
	msg := fmt.Sprintf("%s %d/%d %ss %s.", emoji, report.Succeeded, report.Attempted, report.Kind, report.Action.Past())

	if len(report.Failures) > 0 {
		lines := make([]string, 0, len(report.Failures))
		for _, name := range report.Failed() {
			lines = append(lines, fmt.Sprintf("%s\n    %s", name, report.Failures[name]))
		}
		msg += "\nFailures:```\n" + strings.Join(lines, "\n") + "```"
	}
	return msg
}

// Describe renders an error returned by Apply as a user-facing line.
func Describe(err error, kind string) string {
	switch {
	case errors.IsNotFoundError(err):
		return fmt.Sprintf(":x: Could not find the %s `%s`.", kind, errors.RawName(err))
	case errors.IsAmbiguousError(err):
		return fmt.Sprintf(":x: `%s` is an ambiguous %s name. Please use one of the following fully-qualified names.```\n%s```",
			errors.RawName(err), kind, strings.Join(errors.Candidates(err), "\n"))
	case errors.IsProtectedError(err):
		return fmt.Sprintf(":x: The following %s(s) may not be unloaded:```\n%s```",
			kind, strings.Join(errors.ProtectedNames(err), "\n"))
	default:
		return ":x: " + err.Error()
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
