// Package debuganalyzer implements C8: given an issue description, retrieve
// prior art (ADRs and debug notes) from the KnowledgeBase and structure the
// response as a sequence of diagnostic steps. Stateless across calls, per
// §4.8 — nothing is written or cached here.
package debuganalyzer

import (
	"context"

	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
	"codeintel.dev/knowledgebase"
)

// StepName is one of the five fixed stages of a diagnostic walkthrough.
type StepName string

const (
	StepObserve    StepName = "observe"
	StepHypothesize StepName = "hypothesize"
	StepIsolate    StepName = "isolate"
	StepFix        StepName = "fix"
	StepVerify     StepName = "verify"
)

var stepOrder = []StepName{StepObserve, StepHypothesize, StepIsolate, StepFix, StepVerify}

// Step is one stage of the diagnostic sequence, annotated with the prior-art
// patterns that informed it.
type Step struct {
	Name        StepName             `json:"name"`
	Description string               `json:"description"`
	References  []knowledgebase.Scored `json:"references"`
}

// Report is the full diagnostic walkthrough returned for one issue.
type Report struct {
	Issue string `json:"issue"`
	Steps []Step `json:"steps"`
}

const defaultTopK = 5

// Analyzer is C8.
type Analyzer struct {
	kb  *knowledgebase.KnowledgeBase
	log *logrus.Logger
}

// New constructs an Analyzer.
func New(kb *knowledgebase.KnowledgeBase, log *logrus.Logger) *Analyzer {
	return &Analyzer{kb: kb, log: log}
}

func (a *Analyzer) Initialize(ctx context.Context) error { return nil }
func (a *Analyzer) Cleanup(ctx context.Context) error    { return nil }
func (a *Analyzer) Status(ctx context.Context) error     { return nil }

// Analyze performs the similarity search over kind∈{debug-note, adr} per
// §4.8 and distributes the results across the five diagnostic steps. The
// same reference set informs every step; Analyzer does no further ranking
// beyond what KnowledgeBase.Search already returns.
func (a *Analyzer) Analyze(ctx context.Context, issue, issueContext string) (Report, error) {
	if issue == "" {
		return Report{}, codeerr.New(codeerr.ValidationFailed, "issue description is required")
	}

	query := issue
	if issueContext != "" {
		query = issue + "\n" + issueContext
	}

	filter := &knowledgebase.Filter{
		KindIn: []knowledgebase.Kind{knowledgebase.KindDebugNote, knowledgebase.KindADR},
	}
	scored, err := a.kb.Search(ctx, query, defaultTopK, filter)
	if err != nil {
		return Report{}, err
	}

	steps := make([]Step, 0, len(stepOrder))
	for _, name := range stepOrder {
		steps = append(steps, Step{
			Name:        name,
			Description: describe(name, issue),
			References:  scored,
		})
	}

	return Report{Issue: issue, Steps: steps}, nil
}

func describe(name StepName, issue string) string {
	switch name {
	case StepObserve:
		return "Gather the concrete symptoms of: " + issue
	case StepHypothesize:
		return "List plausible causes consistent with the observed symptoms and any referenced prior art."
	case StepIsolate:
		return "Narrow the hypotheses to the smallest reproducible case."
	case StepFix:
		return "Apply the change that addresses the isolated cause."
	case StepVerify:
		return "Confirm the fix resolves the original symptoms and does not regress referenced cases."
	default:
		return ""
	}
}
