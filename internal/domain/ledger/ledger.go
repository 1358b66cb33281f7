package ledger

import (
	"errors"
	"io"
	"strings"
)

var (
	ErrSourceUnavailable = errors.New("ledger source unavailable")
	ErrMalformedSource   = errors.New("ledger source malformed")
)

// Row is one ledger line keyed by header column name.
type Row map[string]string

// Record is the payment view of a row. It is rebuilt every cycle.
type Record struct {
	Name    string
	Phone   string
	DueDate string
	Amount  string
	Status  string
	Columns Row
}

// Column aliases accepted for each record field, matched case-insensitively.
var (
	NameColumns    = []string{"Nome", "Aluno", "Cliente", "Name"}
	PhoneColumns   = []string{"Telefone", "Celular", "WhatsApp", "Phone"}
	DueDateColumns = []string{"Data_Vencimento", "Vencimento", "Data Vencimento", "Due_Date", "Due Date"}
	AmountColumns  = []string{"Valor", "Amount"}
	StatusColumns  = []string{"Status_Pagamento", "Status Pagamento", "Status"}
)

// RecordFromRow maps a raw row onto a Record using the column aliases.
func RecordFromRow(row Row) Record {
	folded := make(map[string]string, len(row))
	for k, v := range row {
		folded[foldColumn(k)] = strings.TrimSpace(v)
	}
	return Record{
		Name:    lookup(folded, NameColumns),
		Phone:   lookup(folded, PhoneColumns),
		DueDate: lookup(folded, DueDateColumns),
		Amount:  lookup(folded, AmountColumns),
		Status:  lookup(folded, StatusColumns),
		Columns: row,
	}
}

func lookup(folded map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if v := folded[foldColumn(alias)]; v != "" {
			return v
		}
	}
	return ""
}

func foldColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

// SliceRows serves rows from memory, then returns err (io.EOF when nil).
func SliceRows(rows []Row, err error) Rows {
	if err == nil {
		err = io.EOF
	}
	return &sliceRows{rows: rows, err: err}
}

type sliceRows struct {
	rows []Row
	pos  int
	err  error
}

func (s *sliceRows) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, s.err
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceRows) Close() error { return nil }
