package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"apirelay/internal/console"
	"apirelay/internal/format"
	"apirelay/internal/model"
	"apirelay/internal/relay"
	"apirelay/internal/storage"
	"apirelay/internal/viewer"
)

type requestFlags struct {
	headers   []string
	query     []string
	data      string
	bearer    string
	apiKey    string
	apiKeyIn  string
	relayURL  string
	token     string
	noHistory bool
	save      string
	preview   bool
	parsed    bool
}

var reqFlags requestFlags

func init() {
	for _, method := range model.Methods {
		c := &cobra.Command{
			Use:   strings.ToLower(method) + " <url>",
			Short: fmt.Sprintf("Send a %s request through the relay", method),
			Args:  cobra.ExactArgs(1),
			Run:   runRequest(method),
		}
		addRequestFlags(c)
		rootCmd.AddCommand(c)
	}
}

func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVarP(&reqFlags.headers, "header", "H", []string{}, "Add header 'Key: Value' (can be used multiple times)")
	f.StringArrayVarP(&reqFlags.query, "query", "q", []string{}, "Add query parameter key=value (can be used multiple times)")
	f.StringVarP(&reqFlags.data, "data", "d", "", "Request body (JSON string or @filename)")
	f.StringVar(&reqFlags.bearer, "bearer", "", "Bearer token")
	f.StringVar(&reqFlags.apiKey, "api-key", "", "API key as name=value")
	f.StringVar(&reqFlags.apiKeyIn, "api-key-in", "header", "Where to send the API key: header or query")
	f.StringVar(&reqFlags.relayURL, "relay", "", "Send through a remote relay at this base URL instead of in-process")
	f.StringVar(&reqFlags.token, "token", "", "Bearer token for the remote relay")
	f.BoolVar(&reqFlags.noHistory, "no-history", false, "Don't save to history")
	f.StringVarP(&reqFlags.save, "save", "s", "", "Save the request under this name")
	f.BoolVar(&reqFlags.preview, "preview", false, "Show the sanitized HTML preview when present")
	f.BoolVar(&reqFlags.parsed, "parsed", false, "Show the parsed table when present")
}

func runRequest(method string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		verbose, _ := cmd.Flags().GetBool("verbose")

		rl, err := newRelay(cfg)
		if err != nil {
			exitWith("Failed to build relay", err)
		}
		b, err := buildRequest(console.NewBuilder(rl.Policy()), method, args[0], reqFlags)
		if err != nil {
			exitWith("", err)
		}

		var sender console.Sender = rl
		if reqFlags.relayURL != "" {
			sender = relay.NewClient(reqFlags.relayURL, reqFlags.token, cfg.Relay.Timeout+5*time.Second)
		}

		ctx := cmd.Context()
		env, err := b.Send(ctx, sender)
		if err != nil {
			exitWith("Request failed", err)
		}

		format.PrintView(viewer.Build(env, ""), format.Options{
			Headers: verbose,
			Preview: reqFlags.preview,
			Parsed:  reqFlags.parsed,
		})

		record(ctx, b.Snapshot(), env, !reqFlags.noHistory, reqFlags.save)
		exitIfFailed(env)
	}
}

// buildRequest fills b from the command line and checks that it can be sent.
func buildRequest(b *console.Builder, method, rawURL string, fl requestFlags) (*console.Builder, error) {
	if err := b.SetMethod(method); err != nil {
		return nil, err
	}
	b.SetURL(rawURL)

	for _, q := range fl.query {
		kv, err := console.ParseKeyValue(q)
		if err != nil {
			return nil, err
		}
		b.AddParam(kv.Key, kv.Value)
	}
	for _, h := range fl.headers {
		kv, err := console.ParseHeaderLine(h)
		if err != nil {
			return nil, err
		}
		b.AddHeader(kv.Key, kv.Value)
	}

	switch {
	case fl.bearer != "" && fl.apiKey != "":
		return nil, fmt.Errorf("--bearer and --api-key are mutually exclusive")
	case fl.bearer != "":
		b.SetAuth(model.BearerAuth{Token: fl.bearer})
	case fl.apiKey != "":
		kv, err := console.ParseKeyValue(fl.apiKey)
		if err != nil {
			return nil, err
		}
		in := model.APIKeyLocation(strings.ToLower(fl.apiKeyIn))
		if in != model.InHeader && in != model.InQuery {
			return nil, fmt.Errorf("--api-key-in must be header or query")
		}
		b.SetAuth(model.APIKeyAuth{KeyName: kv.Key, KeyValue: kv.Value, In: in})
	}

	body := fl.data
	if strings.HasPrefix(body, "@") {
		content, err := readBodyFromFile(strings.TrimPrefix(body, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		body = content
	}
	b.SetBody(body)

	if msg := b.URLError(); msg != "" {
		return nil, fmt.Errorf("%s", msg)
	}
	if err := b.ValidateBody(); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %s", b.BodyError())
	}
	return b, nil
}

// record appends req to history and, when saveAs is set, saves it under
// that name. Failures only warn.
func record(ctx context.Context, req model.PostmanRequest, env *model.Envelope, history bool, saveAs string) {
	if !history && saveAs == "" {
		return
	}
	cfg := mustConfig()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: history not saved: %v\n", err)
		return
	}
	defer store.Close()

	if history {
		warnIfSensitiveBody(req.BodyText)
		item := storage.NewHistoryItem(storage.Redact(req), model.SummaryOf(env))
		if err := store.AddHistory(ctx, userID, item); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: history not saved: %v\n", err)
		}
	}
	if saveAs != "" {
		item, err := store.SaveRequest(ctx, userID, saveAs, req)
		if err != nil {
			format.PrintError(fmt.Sprintf("Failed to save request: %v", err))
			return
		}
		format.PrintSuccess(fmt.Sprintf("Saved as '%s' (%s)", item.Name, item.ID))
	}
}

var osExit = os.Exit

// exitIfFailed ends the process with status 1 when the relay did not get a
// response.
func exitIfFailed(env *model.Envelope) {
	if env == nil || !env.OK {
		osExit(1)
	}
}

// readBodyFromFile reads file content with path validation to prevent directory traversal
func readBodyFromFile(filename string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}
	cleanPath := filepath.Clean(absPath)

	if !within(wd, cleanPath) {
		return "", fmt.Errorf("access denied: file must be within current directory")
	}

	realPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = cleanPath
	} else if realWD, werr := filepath.EvalSymlinks(wd); werr == nil && !within(realWD, realPath) {
		return "", fmt.Errorf("access denied: symlink target must be within current directory")
	}

	info, err := os.Stat(realPath)
	if err != nil {
		return "", err
	}
	if limit := mustConfig().Relay.MaxBodyBytes; info.Size() > limit {
		return "", fmt.Errorf("%s is larger than the %d byte body limit", filename, limit)
	}

	content, err := os.ReadFile(realPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func within(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// sensitiveBodyPatterns contains patterns that suggest sensitive data in request bodies
var sensitiveBodyPatterns = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"private_key", "privatekey", "credit_card", "card_number",
	"access_token", "refresh_token", "client_secret",
}

// warnIfSensitiveBody checks if the request body might contain sensitive data and warns the user
func warnIfSensitiveBody(body string) {
	if body == "" {
		return
	}

	lowerBody := strings.ToLower(body)
	for _, pattern := range sensitiveBodyPatterns {
		if strings.Contains(lowerBody, pattern) {
			fmt.Fprintln(os.Stderr, "WARNING: Request body may contain sensitive data (e.g., passwords, tokens). This will be stored in history.")
			fmt.Fprintln(os.Stderr, "         Use --no-history flag to skip storing this request.")
			return
		}
	}
}
