package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sheetgate/internal/app"
	"sheetgate/internal/config"
	"sheetgate/internal/oauth"
	"sheetgate/pkg/logging"
	pkgstrings "sheetgate/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// tokensOutput selects table or json rendering for tokens status.
var tokensOutput string

// ReauthRequiredError reports principals whose credential cannot be used or
// refreshed without a new interactive authorization.
type ReauthRequiredError struct {
	Principals []string
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("sign-in required for: %s", strings.Join(e.Principals, ", "))
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect and manage stored credentials",
	Long: `Inspect and manage the encrypted credentials in the token directory.

These commands read the same configuration as 'sheetgate serve' and need the
encryption key in the environment. They work without a running server.

Exit codes:
  0  success
  1  general error
  2  at least one credential requires a new sign-in`,
}

var tokensStatusCmd = &cobra.Command{
	Use:   "status [principal]",
	Short: "Show stored credential status",
	Long: `Show the status of every stored credential, or of a single principal.

Token values are never printed.

Examples:
  sheetgate tokens status
  sheetgate tokens status alice@example.com
  sheetgate tokens status -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openTokenManager(cmd.Context())
		if err != nil {
			return err
		}
		return runTokensStatus(cmd.Context(), cmd.OutOrStdout(), manager, args, tokensOutput, time.Now())
	},
}

var tokensRefreshCmd = &cobra.Command{
	Use:   "refresh <principal>",
	Short: "Force a refresh of a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openTokenManager(cmd.Context())
		if err != nil {
			return err
		}
		return runTokensRefresh(cmd.Context(), cmd.OutOrStdout(), manager, args[0])
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <principal>",
	Short: "Delete a stored credential",
	Long: `Delete the stored credential of a principal. A running server drops its
cached copy when the token directory watcher is enabled; otherwise on restart.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openTokenManager(cmd.Context())
		if err != nil {
			return err
		}
		if err := manager.Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked credential for %s\n", args[0])
		return nil
	},
}

func init() {
	tokensStatusCmd.Flags().StringVarP(&tokensOutput, "output", "o", "table", "Output format (table|json)")

	tokensCmd.AddCommand(tokensStatusCmd, tokensRefreshCmd, tokensRevokeCmd)
	rootCmd.AddCommand(tokensCmd)
}

// openTokenManager loads the configuration and opens the token store.
// Logging goes to stderr so command output stays machine readable.
func openTokenManager(ctx context.Context) (*oauth.Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	level := logging.LevelWarn
	if debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)

	path := configPath
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return app.OpenTokenManager(ctx, &cfg)
}

// statusRow is one rendered credential. Err is set when the record could
// not be read.
type statusRow struct {
	Status oauth.TokenStatus
	Err    error
}

// needsSignIn reports whether the credential is unusable without a new authorization.
func (r statusRow) needsSignIn(now time.Time) bool {
	if r.Err != nil || r.Status.ReauthRequired {
		return true
	}
	if !r.Status.Authenticated {
		return false
	}
	expired := !r.Status.ExpiresAt.IsZero() && !now.Before(r.Status.ExpiresAt)
	return expired && !r.Status.HasRefreshToken
}

func runTokensStatus(ctx context.Context, w io.Writer, manager *oauth.Manager, args []string, output string, now time.Time) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q (use table or json)", output)
	}

	principals := args
	if len(principals) == 0 {
		var err error
		principals, err = manager.Principals(ctx)
		if err != nil {
			return err
		}
	}

	rows := make([]statusRow, 0, len(principals))
	var reauth []string
	for _, principal := range principals {
		status, err := manager.Status(ctx, principal)
		if err != nil {
			status = oauth.TokenStatus{Principal: principal}
		}
		row := statusRow{Status: status, Err: err}
		if row.needsSignIn(now) {
			reauth = append(reauth, principal)
		}
		rows = append(rows, row)
	}

	if output == "json" {
		if err := renderStatusJSON(w, rows); err != nil {
			return err
		}
	} else {
		renderStatusTable(w, rows, now)
	}

	if len(reauth) > 0 {
		return &ReauthRequiredError{Principals: reauth}
	}
	return nil
}

func renderStatusTable(w io.Writer, rows []statusRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No stored credentials"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PRINCIPAL"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("EXPIRES"),
		text.FgHiCyan.Sprint("REFRESH"),
		text.FgHiCyan.Sprint("SCOPES"),
	})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Status.Principal,
			formatCredentialState(row, now),
			formatExpiry(row.Status.ExpiresAt, now),
			formatRefresh(row.Status),
			formatScopes(row.Status.Scopes),
		})
	}
	t.Render()
}

func renderStatusJSON(w io.Writer, rows []statusRow) error {
	type jsonRow struct {
		oauth.TokenStatus
		Error string `json:"error,omitempty"`
	}
	out := make([]jsonRow, 0, len(rows))
	for _, row := range rows {
		jr := jsonRow{TokenStatus: row.Status}
		if row.Err != nil {
			jr.Error = oauth.MessageOf(row.Err)
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatCredentialState(row statusRow, now time.Time) string {
	switch {
	case errors.Is(row.Err, oauth.ErrTokenStoreCorrupted):
		return text.FgRed.Sprint("Corrupted")
	case row.Err != nil:
		return text.FgRed.Sprint("Error")
	case !row.Status.Authenticated:
		return text.FgHiBlack.Sprint("Not authenticated")
	case row.needsSignIn(now):
		return text.FgYellow.Sprint("Sign-in required")
	case row.Status.NeedsRefresh:
		return text.FgYellow.Sprint("Refresh due")
	default:
		return text.FgGreen.Sprint("Valid")
	}
}

func formatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "-"
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}

func formatRefresh(status oauth.TokenStatus) string {
	if !status.Authenticated {
		return "-"
	}
	if status.HasRefreshToken {
		return text.FgGreen.Sprint("Available")
	}
	return text.FgYellow.Sprint("None")
}

func formatScopes(scopes []string) string {
	if len(scopes) == 0 {
		return "-"
	}
	short := make([]string, 0, len(scopes))
	for _, s := range scopes {
		short = append(short, oauth.ShortScope(s))
	}
	return pkgstrings.SingleLine(strings.Join(short, ", "), pkgstrings.DefaultMaxLen)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func runTokensRefresh(ctx context.Context, w io.Writer, manager *oauth.Manager, principal string) error {
	pair, err := manager.Refresh(ctx, principal)
	if err != nil {
		if errors.Is(err, oauth.ErrReauthRequired) {
			return &ReauthRequiredError{Principals: []string{principal}}
		}
		return fmt.Errorf("refresh failed: %s", oauth.MessageOf(err))
	}
	fmt.Fprintf(w, "Refreshed credential for %s, expires %s\n", principal, pair.Expiry.Format(time.RFC3339))
	return nil
}
