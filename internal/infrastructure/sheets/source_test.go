package sheets

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/duerelay/duerelay/internal/domain/ledger"
)

func drain(t *testing.T, rows ledger.Rows) ([]ledger.Row, error) {
	t.Helper()
	defer rows.Close()
	var out []ledger.Row
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}

func serve(t *testing.T, contentType string, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSource() *Source {
	return NewSource(Config{Timeout: 5 * time.Second}, zerolog.Nop())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		locator string
		want    string
		format  Format
		wantErr bool
	}{
		{
			name:    "google sheet edit link",
			locator: "https://docs.google.com/spreadsheets/d/1AbC-d_9/edit#gid=0",
			want:    "https://docs.google.com/spreadsheets/d/1AbC-d_9/export?format=csv&gid=0",
			format:  FormatCSV,
		},
		{
			name:    "google sheet with gid query",
			locator: "https://docs.google.com/spreadsheets/d/1AbC/edit?gid=123",
			want:    "https://docs.google.com/spreadsheets/d/1AbC/export?format=csv&gid=123",
			format:  FormatCSV,
		},
		{
			name:    "google sheet xlsx export",
			locator: "https://docs.google.com/spreadsheets/d/1AbC/export?format=xlsx",
			want:    "https://docs.google.com/spreadsheets/d/1AbC/export?format=xlsx",
			format:  FormatXLSX,
		},
		{
			name:    "plain csv link",
			locator: "https://example.com/ledger.csv",
			want:    "https://example.com/ledger.csv",
			format:  FormatCSV,
		},
		{
			name:    "xlsx file",
			locator: "https://example.com/files/Ledger.XLSX",
			want:    "https://example.com/files/Ledger.XLSX",
			format:  FormatXLSX,
		},
		{name: "not a url", locator: "planilha", wantErr: true},
		{name: "empty", locator: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, format, err := Resolve(tt.locator)
			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrSourceUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.format, format)
		})
	}
}

func TestSource_OpenCSV(t *testing.T) {
	body := "\ufeffNome,Telefone,Vencimento,Valor,Status\n" +
		"Ana,11987654321,10/03/2025,\"1.234,56\",Pendente\n" +
		",,,,\n" +
		"Bruno,21999998888,11/03/2025\n"
	srv := serve(t, "text/csv", http.StatusOK, []byte(body))

	rows, err := newTestSource().Open(context.Background(), srv.URL+"/ledger.csv")
	require.NoError(t, err)
	got, err := drain(t, rows)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Ana", got[0]["Nome"])
	assert.Equal(t, "1.234,56", got[0]["Valor"])
	assert.Equal(t, "", got[1]["Status"])

	rec := ledger.RecordFromRow(got[0])
	assert.Equal(t, "11987654321", rec.Phone)
	assert.Equal(t, "10/03/2025", rec.DueDate)
}

func TestSource_EmptyBodyIsEmptyLedger(t *testing.T) {
	srv := serve(t, "text/csv", http.StatusOK, nil)

	rows, err := newTestSource().Open(context.Background(), srv.URL)
	require.NoError(t, err)
	got, err := drain(t, rows)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSource_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		status      int
		body        string
		want        error
	}{
		{name: "not found", contentType: "text/plain", status: http.StatusNotFound, body: "nope", want: ledger.ErrSourceUnavailable},
		{name: "server error", contentType: "text/plain", status: http.StatusInternalServerError, want: ledger.ErrSourceUnavailable},
		{name: "private sheet", contentType: "text/html; charset=utf-8", status: http.StatusOK, body: "<html>login</html>", want: ledger.ErrSourceUnavailable},
		{name: "blank header", contentType: "text/csv", status: http.StatusOK, body: ",,\nAna,1,2\n", want: ledger.ErrMalformedSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.contentType, tt.status, []byte(tt.body))
			_, err := newTestSource().Open(context.Background(), srv.URL)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestSource().Open(context.Background(), url)
	assert.ErrorIs(t, err, ledger.ErrSourceUnavailable)
}

func TestSource_MalformedRowMidStream(t *testing.T) {
	body := "Nome,Telefone\nAna,11987654321\nBia,\"unterminated\n"
	srv := serve(t, "text/csv", http.StatusOK, []byte(body))

	rows, err := newTestSource().Open(context.Background(), srv.URL)
	require.NoError(t, err)
	got, err := drain(t, rows)
	assert.Len(t, got, 1)
	assert.ErrorIs(t, err, ledger.ErrMalformedSource)
}

func TestSource_OpenXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]any{
		{"Aluno", "Celular", "Data_Vencimento", "Valor", "Status_Pagamento"},
		{"Carla", "11987654321", "12/03/2025", "99,90", "Pendente"},
		{},
		{"Davi", "21987654321", "13/03/2025", "10", "Pago"},
	}
	for i, row := range cells {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	srv := serve(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", http.StatusOK, buf.Bytes())

	rows, err := newTestSource().Open(context.Background(), srv.URL+"/ledger.xlsx")
	require.NoError(t, err)
	got, err := drain(t, rows)
	require.NoError(t, err)

	require.Len(t, got, 2)
	rec := ledger.RecordFromRow(got[0])
	assert.Equal(t, "Carla", rec.Name)
	assert.Equal(t, "11987654321", rec.Phone)
	assert.Equal(t, "12/03/2025", rec.DueDate)
	assert.Equal(t, "Pago", ledger.RecordFromRow(got[1]).Status)
}

func TestSource_BrokenXLSX(t *testing.T) {
	srv := serve(t, "application/octet-stream", http.StatusOK, []byte("not a zip"))

	_, err := newTestSource().Open(context.Background(), srv.URL+"/ledger.xlsx")
	assert.ErrorIs(t, err, ledger.ErrMalformedSource)
}
