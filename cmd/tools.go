package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"apirelay/internal/auth"
	"apirelay/internal/egress"
	"apirelay/internal/errdef"
	"apirelay/internal/format"
	"apirelay/internal/jsonbody"
)

func init() {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check URLs and JSON bodies without sending anything",
	}
	validateCmd.AddCommand(
		&cobra.Command{
			Use:   "url <url>",
			Short: "Check a URL against the egress allowlist",
			Args:  cobra.ExactArgs(1),
			Run:   runValidateURL,
		},
		&cobra.Command{
			Use:   "json <json or @file>",
			Short: "Check that a body is valid JSON",
			Args:  cobra.ExactArgs(1),
			Run:   runValidateJSON,
		},
	)

	formatCmd := &cobra.Command{
		Use:   "format <json or @file>",
		Short: "Pretty-print a JSON body with 2-space indentation",
		Args:  cobra.ExactArgs(1),
		Run:   runFormatJSON,
	}

	tokenCmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Issue a signed token for a local server running with auth mode jwt",
		Args:  cobra.ExactArgs(1),
		Run:   runToken,
	}
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(validateCmd, formatCmd, tokenCmd)
}

func runValidateURL(cmd *cobra.Command, args []string) {
	policy, err := mustConfig().Policy()
	if err != nil {
		exitWith("Invalid egress config", err)
	}
	if err := policy.ValidateURL(args[0]); err != nil {
		exitWith(fmt.Sprintf("%s (%s)", errdef.MessageOf(err), egress.Reason(err)), nil)
	}
	format.PrintSuccess("URL allowed")
}

func bodyArg(arg string) string {
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		content, err := readBodyFromFile(name)
		if err != nil {
			exitWith("Failed to read file", err)
		}
		return content
	}
	return arg
}

func runValidateJSON(cmd *cobra.Command, args []string) {
	if err := jsonbody.Validate(bodyArg(args[0])); err != nil {
		exitWith("Invalid JSON", err)
	}
	format.PrintSuccess("Valid JSON")
}

func runFormatJSON(cmd *cobra.Command, args []string) {
	out, err := jsonbody.Format(bodyArg(args[0]))
	if err != nil {
		exitWith("Invalid JSON", err)
	}
	fmt.Fprintln(format.Out, out)
}

func runToken(cmd *cobra.Command, args []string) {
	cfg := mustConfig()
	if cfg.Auth.JWTSecret == "" {
		exitWith("auth.jwt_secret is not set", nil)
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	tok, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience).Issue(args[0], ttl)
	if err != nil {
		exitWith("Failed to issue token", err)
	}
	fmt.Fprintln(format.Out, tok)
}
