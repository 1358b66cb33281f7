package notification

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duerelay/duerelay/internal/domain/ledger"
)

func anaRecord(status string) ledger.Record {
	return ledger.RecordFromRow(ledger.Row{
		"Nome":       "Ana",
		"Telefone":   "11987654321",
		"Vencimento": "10/03/2025",
		"Valor":      "150,00",
		"Status":     status,
	})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func allRules(offsets ...int) Policy {
	return Policy{
		Rules: Rules{
			LateEnabled:     true,
			DueTodayEnabled: true,
			ReminderEnabled: true,
			ReminderOffsets: offsets,
		},
		Instructions: "pix@example.com",
	}
}

func TestClassify_ReminderScenario(t *testing.T) {
	policy := Policy{Rules: Rules{ReminderEnabled: true, ReminderOffsets: []int{3}}}

	d, ok := Classify(anaRecord("Pendente"), day(2025, time.March, 7), policy)

	require.True(t, ok)
	assert.Equal(t, KindReminder, d.Kind)
	assert.Equal(t, 3, d.DaysOffset)

	msg := d.Render()
	assert.Contains(t, msg, "Ana")
	assert.Contains(t, msg, "R$ 150,00")
	assert.Contains(t, msg, "10/03/2025")
}

func TestClassify_LateScenario(t *testing.T) {
	policy := Policy{Rules: Rules{LateEnabled: true}}

	d, ok := Classify(anaRecord("Pendente"), day(2025, time.March, 12), policy)

	require.True(t, ok)
	assert.Equal(t, KindLate, d.Kind)
	assert.Equal(t, 2, d.DaysOffset)
	assert.Equal(t, "2", d.Variables[VarDays])
}

func TestClassify_DueToday(t *testing.T) {
	d, ok := Classify(anaRecord("Pendente"), day(2025, time.March, 10), allRules(3))

	require.True(t, ok)
	assert.Equal(t, KindDueToday, d.Kind)
	assert.Equal(t, 0, d.DaysOffset)
	assert.Equal(t, DefaultDueTodayTemplate, d.Template)
}

func TestClassify_PaidStatusNeverNotifies(t *testing.T) {
	statuses := []string{"PAGO", "pago", "Pago em 05/03", "Paid", "quitado", "LIQUIDADA", "pagado"}
	days := []time.Time{
		day(2025, time.March, 1),
		day(2025, time.March, 7),
		day(2025, time.March, 10),
		day(2025, time.March, 20),
	}
	for _, status := range statuses {
		for _, today := range days {
			_, ok := Classify(anaRecord(status), today, allRules(3))
			assert.False(t, ok, "status %q on %s", status, today.Format("2006-01-02"))
		}
	}
}

func TestClassify_UnpaidStatusesStillNotify(t *testing.T) {
	for _, status := range []string{"Pendente", "Não pago", "nao paga", "unpaid", "", "Em aberto"} {
		_, ok := Classify(anaRecord(status), day(2025, time.March, 12), allRules())
		assert.True(t, ok, "status %q", status)
	}
}

func TestClassify_RejectsIncompleteRecords(t *testing.T) {
	tests := []struct {
		name string
		rec  ledger.Record
	}{
		{name: "missing name", rec: ledger.Record{Phone: "11987654321", DueDate: "10/03/2025"}},
		{name: "missing phone", rec: ledger.Record{Name: "Ana", DueDate: "10/03/2025"}},
		{name: "missing due date", rec: ledger.Record{Name: "Ana", Phone: "11987654321"}},
		{name: "garbage due date", rec: ledger.Record{Name: "Ana", Phone: "11987654321", DueDate: "amanhã"}},
		{name: "impossible due date", rec: ledger.Record{Name: "Ana", Phone: "11987654321", DueDate: "31/02/2025"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Classify(tt.rec, day(2025, time.March, 10), allRules(0, 1, 2, 3))
			assert.False(t, ok)
		})
	}
}

func TestClassify_AtMostOneDecision(t *testing.T) {
	policy := allRules(1, 2, 3, 5, 7)
	start := day(2025, time.February, 20)
	for i := 0; i < 30; i++ {
		today := start.AddDate(0, 0, i)
		d, ok := Classify(anaRecord("Pendente"), today, policy)
		diff := DaysBetween(today, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
		switch {
		case diff < 0:
			require.True(t, ok)
			assert.Equal(t, KindLate, d.Kind)
			assert.Equal(t, -diff, d.DaysOffset)
		case diff == 0:
			require.True(t, ok)
			assert.Equal(t, KindDueToday, d.Kind)
		case policy.Rules.HasOffset(diff):
			require.True(t, ok)
			assert.Equal(t, KindReminder, d.Kind)
		default:
			assert.False(t, ok)
		}
	}
}

func TestClassify_DisabledRulesYieldNothing(t *testing.T) {
	policy := Policy{Rules: Rules{ReminderOffsets: []int{3}}}
	for _, today := range []time.Time{day(2025, time.March, 7), day(2025, time.March, 10), day(2025, time.March, 12)} {
		_, ok := Classify(anaRecord("Pendente"), today, policy)
		assert.False(t, ok)
	}
}

func TestClassify_IsPure(t *testing.T) {
	rec := anaRecord("Pendente")
	today := day(2025, time.March, 7)
	policy := allRules(3)

	first, ok1 := Classify(rec, today, policy)
	second, ok2 := Classify(rec, today, policy)

	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestClassify_VariablesAndCustomTemplate(t *testing.T) {
	policy := allRules()
	policy.Templates.Late = "{name} deve {amount} desde {due_date} ({days}d). {payment_instructions} {unknown}"

	d, ok := Classify(anaRecord("Pendente"), day(2025, time.March, 15), policy)

	require.True(t, ok)
	assert.Equal(t, map[string]string{
		VarName:         "Ana",
		VarAmount:       "R$ 150,00",
		VarDueDate:      "10/03/2025",
		VarDays:         "5",
		VarInstructions: "pix@example.com",
	}, d.Variables)
	assert.Equal(t, "Ana deve R$ 150,00 desde 10/03/2025 (5d). pix@example.com {unknown}", d.Render())
}

func TestClassify_Filter(t *testing.T) {
	rec := ledger.RecordFromRow(ledger.Row{
		"Nome":       "Ana",
		"Telefone":   "11987654321",
		"Vencimento": "10/03/2025",
		"Valor":      "150,00",
		"Plano":      "Mensal",
	})
	today := day(2025, time.March, 12)

	t.Run("matching filter", func(t *testing.T) {
		policy := allRules()
		policy.Rules.Filter = `Plano == "Mensal" && amountValue > 100`
		_, ok := Classify(rec, today, policy)
		assert.True(t, ok)
	})

	t.Run("non matching filter", func(t *testing.T) {
		policy := allRules()
		policy.Rules.Filter = `Plano == "Anual"`
		_, ok := Classify(rec, today, policy)
		assert.False(t, ok)
	})

	t.Run("unknown column fails closed", func(t *testing.T) {
		policy := allRules()
		policy.Rules.Filter = `Turma == "A"`
		_, ok := Classify(rec, today, policy)
		assert.False(t, ok)
	})

	t.Run("bad expression fails closed", func(t *testing.T) {
		policy := allRules()
		policy.Rules.Filter = `Plano ==`
		_, err := NewClassifier(policy)
		require.Error(t, err)
		_, ok := Classify(rec, today, policy)
		assert.False(t, ok)
	})
}

func TestIsPaid(t *testing.T) {
	assert.True(t, IsPaid("PAGO"))
	assert.True(t, IsPaid("Pagamento: pago"))
	assert.False(t, IsPaid("Pagamento pendente"))
	assert.False(t, IsPaid("não pago"))
	assert.False(t, IsPaid("unpaid"))
	assert.False(t, IsPaid(""))
}
