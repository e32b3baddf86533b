package format

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/fatih/color"

	"apirelay/internal/jsonbody"
	"apirelay/internal/model"
	"apirelay/internal/viewer"
)

// Out receives everything this package prints.
var Out io.Writer = color.Output

// sanitizeOutput escapes control characters that could manipulate the
// terminal, keeping common whitespace.
func sanitizeOutput(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteRune(r)
		case r == '\x1b':
			result.WriteString("\\x1b")
		case unicode.IsControl(r) && r < 0x20:
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		case r == 0x7F:
			result.WriteString("\\x7f")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

var (
	successColor   = color.New(color.FgGreen, color.Bold)
	redirectColor  = color.New(color.FgYellow, color.Bold)
	clientErrColor = color.New(color.FgRed, color.Bold)
	serverErrColor = color.New(color.FgRed, color.Bold, color.BgWhite)
	headerKeyColor = color.New(color.FgCyan)
	methodColor    = color.New(color.FgMagenta, color.Bold)
	urlColor       = color.New(color.FgBlue)
	dimColor       = color.New(color.Faint)
)

// Options selects the optional sections of PrintView.
type Options struct {
	Headers bool
	Preview bool
	Parsed  bool
}

// PrintView prints a rendered response.
func PrintView(v *viewer.View, opts Options) {
	if !v.OK {
		clientErrColor.Fprintf(Out, "✗ %s\n", sanitizeOutput(v.Error))
		if v.TimeMs > 0 {
			dimColor.Fprintf(Out, "  Time: %dms\n", v.TimeMs)
		}
		return
	}

	printStatusLine(v.Status, v.StatusText)
	dimColor.Fprintf(Out, "  Time: %dms\n\n", v.TimeMs)

	if opts.Headers {
		printHeaders(v.Headers)
	}
	printBody(v.Body)

	if opts.Preview && v.Preview != nil {
		fmt.Fprintln(Out)
		headerKeyColor.Fprintln(Out, "Preview (sanitized):")
		fmt.Fprintln(Out, sanitizeOutput(v.Preview.HTML))
	}
	if opts.Parsed && len(v.Parsed) > 0 {
		fmt.Fprintln(Out)
		printParsed(v.Parsed)
	}
}

func printStatusLine(code int, text string) {
	statusColor := getStatusColor(code)
	statusColor.Fprintf(Out, "%d %s\n", code, sanitizeOutput(text))
}

func getStatusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return successColor
	case code >= 300 && code < 400:
		return redirectColor
	case code >= 400 && code < 500:
		return clientErrColor
	default:
		return serverErrColor
	}
}

// printHeaders keeps the envelope's order.
func printHeaders(headers model.HeaderList) {
	if len(headers) == 0 {
		return
	}

	fmt.Fprintf(Out, "Headers (%d):\n", len(headers))
	for _, h := range headers {
		headerKeyColor.Fprintf(Out, "  %s: ", sanitizeOutput(h.Name))
		fmt.Fprintln(Out, sanitizeOutput(h.Value))
	}
	fmt.Fprintln(Out)
}

func printBody(body string) {
	if body == "" {
		dimColor.Fprintln(Out, "(empty body)")
		return
	}
	fmt.Fprintln(Out, sanitizeOutput(body))
}

func printParsed(rows []viewer.Row) {
	headerKeyColor.Fprintf(Out, "Parsed (%d):\n", len(rows))
	for i, row := range rows {
		dimColor.Fprintf(Out, "[%d] ", i+1)
		fmt.Fprintln(Out, sanitizeOutput(row.Text))
		for _, f := range row.Fields {
			headerKeyColor.Fprintf(Out, "    %s ", sanitizeOutput(f.Label))
			fmt.Fprintln(Out, sanitizeOutput(f.Value))
		}
	}
}

// PrintHistoryList prints history items in a compact format, newest first.
func PrintHistoryList(items []model.HistoryItem, limit int) {
	if len(items) == 0 {
		dimColor.Fprintln(Out, "No requests in history")
		return
	}

	count := len(items)
	if limit > 0 && limit < count {
		count = limit
	}

	for i := 0; i < count; i++ {
		item := items[i]
		dimColor.Fprintf(Out, "[%d] ", i+1)
		printRequestLine(item.Request)

		sum := item.ResponseSummary
		if sum.OK {
			getStatusColor(sum.Status).Fprintf(Out, "%d ", sum.Status)
		} else {
			clientErrColor.Fprint(Out, "ERR ")
		}
		dimColor.Fprintf(Out, "(%dms) %s\n", sum.TimeMs, item.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if limit > 0 && len(items) > limit {
		dimColor.Fprintf(Out, "\n... and %d more requests\n", len(items)-limit)
	}
}

// PrintSavedList prints saved requests.
func PrintSavedList(items []model.SavedItem) {
	if len(items) == 0 {
		dimColor.Fprintln(Out, "No saved requests")
		return
	}

	for _, item := range items {
		headerKeyColor.Fprintf(Out, "%s ", sanitizeOutput(item.Name))
		dimColor.Fprintf(Out, "(%s)\n", item.ID)
		fmt.Fprint(Out, "    ")
		printRequestLine(item.Request)
		fmt.Fprintln(Out)
	}
}

func printRequestLine(req model.PostmanRequest) {
	methodColor.Fprintf(Out, "%-7s ", req.Method)

	u := req.URL
	if r := []rune(u); len(r) > 60 {
		u = string(r[:57]) + "..."
	}
	urlColor.Fprintf(Out, "%-60s ", sanitizeOutput(u))
}

// PrintRequestDetail prints every part of a console request.
func PrintRequestDetail(req model.PostmanRequest) {
	methodColor.Fprintf(Out, "%s ", req.Method)
	urlColor.Fprintln(Out, sanitizeOutput(req.URL))
	printRows("Params", req.Params)
	printRows("Headers", req.Headers)

	switch a := req.Auth.(type) {
	case model.BearerAuth:
		fmt.Fprintln(Out, "Auth: bearer")
		headerKeyColor.Fprint(Out, "  token: ")
		fmt.Fprintln(Out, sanitizeOutput(a.Token))
	case model.APIKeyAuth:
		fmt.Fprintf(Out, "Auth: api key in %s\n", a.In)
		headerKeyColor.Fprintf(Out, "  %s: ", sanitizeOutput(a.KeyName))
		fmt.Fprintln(Out, sanitizeOutput(a.KeyValue))
	}

	if !jsonbody.IsBlank(req.BodyText) {
		fmt.Fprintln(Out, "Body:")
		fmt.Fprintln(Out, sanitizeOutput(jsonbody.Pretty(req.BodyText)))
	}
}

func printRows(title string, rows []model.KeyValue) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(Out, "%s:\n", title)
	for _, kv := range rows {
		headerKeyColor.Fprintf(Out, "  %s: ", sanitizeOutput(kv.Key))
		fmt.Fprint(Out, sanitizeOutput(kv.Value))
		if !kv.Enabled {
			dimColor.Fprint(Out, " (disabled)")
		}
		fmt.Fprintln(Out)
	}
}

// PrintHistoryDetail prints a history item with its response summary.
func PrintHistoryDetail(item model.HistoryItem) {
	dimColor.Fprintf(Out, "ID: %s\n", item.ID)
	dimColor.Fprintf(Out, "Time: %s\n\n", item.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	PrintRequestDetail(item.Request)

	fmt.Fprintln(Out, "\nResponse:")
	fmt.Fprintln(Out, strings.Repeat("-", 40))
	sum := item.ResponseSummary
	if sum.OK {
		getStatusColor(sum.Status).Fprintf(Out, "%d\n", sum.Status)
	} else {
		clientErrColor.Fprintln(Out, "request failed")
	}
	dimColor.Fprintf(Out, "Time: %dms\n", sum.TimeMs)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	successColor.Fprintf(Out, "✓ %s\n", msg)
}

// PrintError prints an error message
func PrintError(msg string) {
	clientErrColor.Fprintf(Out, "✗ %s\n", msg)
}
