package notification

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Knetic/govaluate"

	"github.com/duerelay/duerelay/internal/domain/ledger"
)

// Kind is the category of a payment notification.
type Kind string

const (
	KindLate     Kind = "LATE"
	KindDueToday Kind = "DUE_TODAY"
	KindReminder Kind = "REMINDER"
)

var ErrInvalidRecord = errors.New("invalid ledger record")

// Rules selects which notification kinds a tenant sends.
type Rules struct {
	LateEnabled     bool   `json:"lateEnabled"`
	DueTodayEnabled bool   `json:"dueTodayEnabled"`
	ReminderEnabled bool   `json:"reminderEnabled"`
	ReminderOffsets []int  `json:"reminderOffsets,omitempty"`
	Filter          string `json:"filter,omitempty"`
}

// AnyEnabled reports whether at least one kind is switched on.
func (r Rules) AnyEnabled() bool {
	return r.LateEnabled || r.DueTodayEnabled || r.ReminderEnabled
}

// HasOffset reports whether days is one of the reminder offsets.
func (r Rules) HasOffset(days int) bool {
	for _, o := range r.ReminderOffsets {
		if o == days {
			return true
		}
	}
	return false
}

// Policy is everything the classifier needs from a tenant configuration.
type Policy struct {
	Rules        Rules
	Templates    Templates
	Instructions string
}

// Decision is the single notification chosen for a record.
type Decision struct {
	Kind       Kind
	DaysOffset int
	Template   string
	Variables  map[string]string
}

// Render fills the decision template with its variables.
func (d Decision) Render() string {
	return Render(d.Template, d.Variables)
}

// Classifier applies a compiled policy to records. It holds no clock and no
// mutable state, so it is safe for concurrent use.
type Classifier struct {
	policy Policy
	filter *govaluate.EvaluableExpression
}

// NewClassifier compiles the policy's row filter.
func NewClassifier(p Policy) (*Classifier, error) {
	filter, err := CompileFilter(p.Rules.Filter)
	if err != nil {
		return nil, err
	}
	return &Classifier{policy: p, filter: filter}, nil
}

// Classify is the one-shot form of Classifier.Classify. A policy whose
// filter does not compile rejects every record.
func Classify(rec ledger.Record, today time.Time, p Policy) (Decision, bool) {
	c, err := NewClassifier(p)
	if err != nil {
		return Decision{}, false
	}
	return c.Classify(rec, today)
}

// Classify returns the notification for rec as of today, if any.
func (c *Classifier) Classify(rec ledger.Record, today time.Time) (Decision, bool) {
	if err := c.check(rec); err != nil {
		return Decision{}, false
	}
	due, err := ParseDueDate(rec.DueDate)
	if err != nil {
		return Decision{}, false
	}
	if !matchFilter(c.filter, rec) {
		return Decision{}, false
	}

	rules := c.policy.Rules
	diff := DaysBetween(today, due)

	var d Decision
	switch {
	case rules.LateEnabled && diff < 0:
		d = Decision{Kind: KindLate, DaysOffset: -diff}
	case rules.DueTodayEnabled && diff == 0:
		d = Decision{Kind: KindDueToday}
	case rules.ReminderEnabled && diff > 0 && rules.HasOffset(diff):
		d = Decision{Kind: KindReminder, DaysOffset: diff}
	default:
		return Decision{}, false
	}

	d.Template = c.policy.Templates.For(d.Kind)
	d.Variables = map[string]string{
		VarName:         rec.Name,
		VarAmount:       FormatAmount(rec.Amount),
		VarDueDate:      rec.DueDate,
		VarDays:         strconv.Itoa(d.DaysOffset),
		VarInstructions: instructionsOrDefault(c.policy.Instructions),
	}
	return d, true
}

func (c *Classifier) check(rec ledger.Record) error {
	if rec.Name == "" || rec.Phone == "" || rec.DueDate == "" {
		return ErrInvalidRecord
	}
	if IsPaid(rec.Status) {
		return ErrInvalidRecord
	}
	return nil
}

func instructionsOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Não configurado"
	}
	return s
}

var paidWords = map[string]bool{
	"pago":      true,
	"paga":      true,
	"pagado":    true,
	"paid":      true,
	"quitado":   true,
	"quitada":   true,
	"liquidado": true,
	"liquidada": true,
}

var negations = map[string]bool{
	"nao": true,
	"não": true,
	"not": true,
	"sem": true,
}

// IsPaid reports whether a status cell marks the record as settled.
// "Não pago" and "unpaid" are not settled.
func IsPaid(status string) bool {
	words := strings.FieldsFunc(strings.ToLower(status), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, w := range words {
		if !paidWords[w] {
			continue
		}
		if i > 0 && negations[words[i-1]] {
			continue
		}
		return true
	}
	return false
}
