package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDueDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{raw: "10/03/2025", want: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)},
		{raw: "10-03-2025", want: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)},
		{raw: " 1/4/2026 ", want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)},
		{raw: "05/01/27", want: time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC)},
		{raw: "29/02/2024", want: time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{raw: "29/02/2025", wantErr: true},
		{raw: "32/01/2025", wantErr: true},
		{raw: "10/13/2025", wantErr: true},
		{raw: "2025-03-10x", wantErr: true},
		{raw: "10/03", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "aa/bb/cccc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDueDate(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDueDate_KeepsLedgerYear(t *testing.T) {
	got, err := ParseDueDate("15/06/2031")
	require.NoError(t, err)
	assert.Equal(t, 2031, got.Year())
}

func TestDaysBetween(t *testing.T) {
	due := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysBetween(time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC), due))
	assert.Equal(t, 3, DaysBetween(time.Date(2025, time.March, 7, 23, 59, 0, 0, time.UTC), due))
	assert.Equal(t, 0, DaysBetween(time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC), due))
	assert.Equal(t, -2, DaysBetween(time.Date(2025, time.March, 12, 1, 0, 0, 0, time.UTC), due))

	t.Run("late evening in a western zone keeps its own date", func(t *testing.T) {
		brt := time.FixedZone("BRT", -3*60*60)
		today := time.Date(2025, time.March, 7, 23, 30, 0, 0, brt)
		assert.Equal(t, 3, DaysBetween(today, due))
	})

	t.Run("daylight saving transition", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		// 2025-03-09 is a 23 hour day in New York.
		today := time.Date(2025, time.March, 8, 0, 0, 0, 0, ny)
		nextDue := time.Date(2025, time.March, 10, 0, 0, 0, 0, ny)
		assert.Equal(t, 2, DaysBetween(today, nextDue))

		// 2025-11-02 is a 25 hour day.
		today = time.Date(2025, time.November, 1, 0, 0, 0, 0, ny)
		nextDue = time.Date(2025, time.November, 3, 0, 0, 0, 0, ny)
		assert.Equal(t, 2, DaysBetween(today, nextDue))
	})
}

func TestFormatAmount(t *testing.T) {
	tests := map[string]string{
		"150,00":      "R$ 150,00",
		"150":         "R$ 150,00",
		"150.5":       "R$ 150,50",
		"R$ 1.234,56": "R$ 1.234,56",
		"1234567,8":   "R$ 1.234.567,80",
		"1.000.000":   "R$ 1.000.000,00",
		"-20,1":       "R$ -20,10",
		"":            "N/A",
		"gratuito":    "N/A",
		"R$":          "N/A",
		" 99,999 ":    "R$ 100,00",
		"R$ 10,5":     "R$ 10,50",
	}
	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			assert.Equal(t, want, FormatAmount(raw))
		})
	}
}

func TestRender(t *testing.T) {
	vars := map[string]string{"name": "Ana", "days": "3"}

	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{name: "plain", tmpl: "Olá", vars: vars, want: "Olá"},
		{name: "known", tmpl: "Olá {name}, {days} dias", vars: vars, want: "Olá Ana, 3 dias"},
		{name: "unknown passes through", tmpl: "{name} {cpf}", vars: vars, want: "Ana {cpf}"},
		{name: "repeated", tmpl: "{name}{name}", vars: vars, want: "AnaAna"},
		{name: "unbalanced open", tmpl: "{name", vars: vars, want: "{name"},
		{name: "nested open", tmpl: "{{name}}", vars: vars, want: "{Ana}"},
		{name: "stray close", tmpl: "a } b", vars: vars, want: "a } b"},
		{name: "empty key", tmpl: "{}", vars: vars, want: "{}"},
		{name: "values are not expanded again", tmpl: "{name}", vars: map[string]string{"name": "{days}", "days": "3"}, want: "{days}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.vars))
		})
	}
}

func TestTemplates_For(t *testing.T) {
	custom := Templates{Reminder: "lembrete {name}"}

	assert.Equal(t, "lembrete {name}", custom.For(KindReminder))
	assert.Equal(t, DefaultLateTemplate, custom.For(KindLate))
	assert.Equal(t, DefaultDueTodayTemplate, custom.For(KindDueToday))
	assert.Equal(t, "", custom.For(Kind("OTHER")))
}
