package notification

import "strings"

// Placeholders recognized by Render.
const (
	VarName         = "name"
	VarAmount       = "amount"
	VarDueDate      = "due_date"
	VarDays         = "days"
	VarInstructions = "payment_instructions"
)

// Templates holds one message template per kind. Empty entries fall back to
// the defaults.
type Templates struct {
	Late     string `json:"late,omitempty"`
	DueToday string `json:"dueToday,omitempty"`
	Reminder string `json:"reminder,omitempty"`
}

const (
	DefaultLateTemplate = "Olá {name}! ⚠️\n\nSeu pagamento está atrasado há {days} dia(s).\n\n" +
		"💰 Valor: {amount}\n📅 Vencimento: {due_date}\n\n💳 PIX:\n{payment_instructions}\n\n" +
		"Por favor, regularize sua situação! 💪"
	DefaultDueTodayTemplate = "Olá {name}! 🔴\n\nSeu pagamento vence HOJE!\n\n" +
		"💰 Valor: {amount}\n📅 Vencimento: {due_date}\n\n💳 PIX:\n{payment_instructions}\n\n" +
		"Realize o pagamento para evitar bloqueio! 💪"
	DefaultReminderTemplate = "Olá {name}! 🔔\n\nSeu pagamento vence em {days} dia(s).\n\n" +
		"💰 Valor: {amount}\n📅 Vencimento: {due_date}\n\n💳 PIX:\n{payment_instructions}\n\n" +
		"Fique em dia! 💪"
)

// For returns the template configured for kind.
func (t Templates) For(kind Kind) string {
	switch kind {
	case KindLate:
		return orDefault(t.Late, DefaultLateTemplate)
	case KindDueToday:
		return orDefault(t.DueToday, DefaultDueTodayTemplate)
	case KindReminder:
		return orDefault(t.Reminder, DefaultReminderTemplate)
	}
	return ""
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Render replaces every {key} whose key is in vars. Anything else,
// including unknown placeholders and unbalanced braces, is copied as is.
func Render(tmpl string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		if tmpl[i] != '{' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexAny(tmpl[i+1:], "{}")
		if end < 0 || tmpl[i+1+end] != '}' {
			b.WriteByte('{')
			i++
			continue
		}
		key := tmpl[i+1 : i+1+end]
		if val, ok := vars[key]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(tmpl[i : i+2+end])
		}
		i += end + 2
	}
	return b.String()
}
