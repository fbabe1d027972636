package analyzer

import (
	"fmt"
	"strings"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/monitor"
)

// =============================================================================
// PROOF DERIVATION LOG
// =============================================================================

// Rule names a reduction rule of the monitor semantics.
type Rule string

const (
	RuleDisYL Rule = "mDisYL"
	RuleDisYR Rule = "mDisYR"
	RuleConNL Rule = "mConNL"
	RuleConNR Rule = "mConNR"
	RuleDisNL Rule = "mDisNL"
	RuleDisNR Rule = "mDisNR"
	RuleConYL Rule = "mConYL"
	RuleConYR Rule = "mConYR"
	RuleRec   Rule = "mRec"
	RuleRecV  Rule = "mRecVar"
	RuleTauL  Rule = "mTauL"
	RuleTauR  Rule = "mTauR"
	RuleVrd   Rule = "mVrd"
	RuleAct   Rule = "mAct"
	RuleChsL  Rule = "mChsL"
	RuleChsR  Rule = "mChsR"
	RulePar   Rule = "mPar"
)

// DerivID locates a rule application in its proof tree: a sequence of
// positive integers reflecting the depth-first position. The top
// reduction of a step is [1]; descending into a premise prepends 1; a
// sibling premise at the same level increments the head.
type DerivID []int

// RootID is the identifier of a step's top reduction.
func RootID() DerivID {
	return DerivID{1}
}

// Premise returns the identifier of the first premise of d.
func (d DerivID) Premise() DerivID {
	out := make(DerivID, 0, len(d)+1)
	out = append(out, 1)
	return append(out, d...)
}

// Next returns the identifier of the next sibling premise.
func (d DerivID) Next() DerivID {
	out := make(DerivID, len(d))
	copy(out, d)
	out[0]++
	return out
}

// String renders the identifier dot-joined, e.g. "2.1".
func (d DerivID) String() string {
	parts := make([]string, len(d))
	for i, n := range d {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ".")
}

// Entry records one rule application: where it sits in the proof tree,
// the rule applied, the event driving it (nil for a silent τ step), the
// source and target terms, and the premise records for congruence
// rules.
type Entry struct {
	ID       DerivID
	Rule     Rule
	Event    *event.Event
	From     *monitor.Term
	To       *monitor.Term
	Premises []*Entry
}

// Tau reports whether the entry records a silent reduction.
func (e *Entry) Tau() bool {
	return e.Event == nil
}

// String renders the entry for logs.
func (e *Entry) String() string {
	act := "tau"
	if e.Event != nil {
		act = e.Event.String()
	}
	return fmt.Sprintf("[%s] %s: %s -%s-> %s", e.ID, e.Rule, e.From, act, e.To)
}

// ProofLog accumulates the step records of a full run. Records are
// appended in the order they are produced; Entries exposes them newest
// first, which is the order the overall derivation is reported in.
type ProofLog struct {
	records []*Entry
}

// Append adds records to the log in chronological order.
func (l *ProofLog) Append(entries ...*Entry) {
	l.records = append(l.records, entries...)
}

// Len returns the number of records.
func (l *ProofLog) Len() int {
	return len(l.records)
}

// Entries returns the accumulated records in reverse chronological
// order. The returned slice is a copy.
func (l *ProofLog) Entries() []*Entry {
	out := make([]*Entry, len(l.records))
	for i, e := range l.records {
		out[len(l.records)-1-i] = e
	}
	return out
}

// Chronological returns the records oldest first. The returned slice is
// a copy.
func (l *ProofLog) Chronological() []*Entry {
	out := make([]*Entry, len(l.records))
	copy(out, l.records)
	return out
}

// Rules returns the rule names of the records, oldest first. Intended
// for tests and compact logging.
func (l *ProofLog) Rules() []Rule {
	out := make([]Rule, len(l.records))
	for i, e := range l.records {
		out[i] = e.Rule
	}
	return out
}
