package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/duerelay/duerelay/internal/domain/ledger"
)

const DefaultTimeout = 30 * time.Second

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var sheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

type Config struct {
	Timeout    time.Duration
	RetryCount int
}

// Source reads ledgers from public spreadsheet links and plain CSV or XLSX
// downloads.
type Source struct {
	client *resty.Client
	logger zerolog.Logger
}

func NewSource(cfg Config, logger zerolog.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "text/csv, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, */*")
	return &Source{
		client: client,
		logger: logger.With().Str("service", "sheets").Logger(),
	}
}

// Resolve turns a locator into the download URL and its format. Google
// Sheets links are rewritten to their export endpoint, keeping the tab gid.
func Resolve(locator string) (string, Format, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: invalid locator %q", ledger.ErrSourceUnavailable, locator)
	}

	format := FormatCSV
	if strings.EqualFold(u.Query().Get("format"), "xlsx") || strings.HasSuffix(strings.ToLower(u.Path), ".xlsx") {
		format = FormatXLSX
	}

	m := sheetIDPattern.FindStringSubmatch(u.Path)
	if m == nil || !strings.Contains(u.Host, "docs.google.com") {
		return u.String(), format, nil
	}

	gid := u.Query().Get("gid")
	if gid == "" && strings.HasPrefix(u.Fragment, "gid=") {
		gid = strings.TrimPrefix(u.Fragment, "gid=")
	}
	q := url.Values{}
	q.Set("format", string(format))
	if gid != "" {
		q.Set("gid", gid)
	}
	export := url.URL{
		Scheme:   "https",
		Host:     u.Host,
		Path:     "/spreadsheets/d/" + m[1] + "/export",
		RawQuery: q.Encode(),
	}
	return export.String(), format, nil
}

// Open downloads the ledger and returns a row iterator over it.
func (s *Source) Open(ctx context.Context, locator string) (ledger.Rows, error) {
	target, format, err := Resolve(locator)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrSourceUnavailable, err)
	}
	body := resp.RawBody()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		body.Close()
		return nil, fmt.Errorf("%w: status %d", ledger.ErrSourceUnavailable, resp.StatusCode())
	}
	// A private sheet answers with a sign-in page instead of the export.
	if strings.HasPrefix(strings.ToLower(resp.Header().Get("Content-Type")), "text/html") {
		body.Close()
		return nil, fmt.Errorf("%w: sheet is not public", ledger.ErrSourceUnavailable)
	}

	s.logger.Debug().Str("url", target).Str("format", string(format)).Msg("ledger fetched")

	if format == FormatXLSX {
		defer body.Close()
		return openXLSX(body)
	}
	return openCSV(body)
}

type csvRows struct {
	body   io.ReadCloser
	reader *csv.Reader
	header []string
}

func openCSV(body io.ReadCloser) (ledger.Rows, error) {
	r := csv.NewReader(body)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		body.Close()
		return ledger.SliceRows(nil, nil), nil
	}
	if err != nil {
		body.Close()
		return nil, readError(err)
	}
	header = cleanHeader(header)
	if !hasHeader(header) {
		body.Close()
		return nil, fmt.Errorf("%w: header row has no cells", ledger.ErrMalformedSource)
	}
	return &csvRows{body: body, reader: r, header: header}, nil
}

func (c *csvRows) Next() (ledger.Row, error) {
	for {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, readError(err)
		}
		if blank(record) {
			continue
		}
		return toRow(c.header, record), nil
	}
}

func (c *csvRows) Close() error {
	return c.body.Close()
}

type xlsxRows struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

func openXLSX(body io.Reader) (ledger.Rows, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return ledger.SliceRows(nil, nil), nil
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
	}
	if !rows.Next() {
		rows.Close()
		f.Close()
		return ledger.SliceRows(nil, rows.Error()), nil
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
	}
	header = cleanHeader(header)
	if !hasHeader(header) {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("%w: header row has no cells", ledger.ErrMalformedSource)
	}
	return &xlsxRows{file: f, rows: rows, header: header}, nil
}

func (x *xlsxRows) Next() (ledger.Row, error) {
	for x.rows.Next() {
		cells, err := x.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
		}
		if blank(cells) {
			continue
		}
		return toRow(x.header, cells), nil
	}
	if err := x.rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
	}
	return nil, io.EOF
}

func (x *xlsxRows) Close() error {
	return errors.Join(x.rows.Close(), x.file.Close())
}

func readError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %v", ledger.ErrMalformedSource, err)
	}
	return fmt.Errorf("%w: %v", ledger.ErrSourceUnavailable, err)
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func hasHeader(header []string) bool {
	return !blank(header)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func toRow(header, cells []string) ledger.Row {
	row := make(ledger.Row, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(cells) {
			row[name] = strings.TrimSpace(cells[i])
		} else {
			row[name] = ""
		}
	}
	return row
}
