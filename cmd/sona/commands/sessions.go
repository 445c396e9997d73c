package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/lumenkind/sona/pkg/cli"
	"github.com/lumenkind/sona/pkg/therapy"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
	Long: `Inspect the session records in the datastore.

Transcripts stay encrypted: every subcommand works on the session
record, which carries only the ciphertext envelope.

Examples:
  sona sessions list
  sona sessions list --user 6f1c...
  sona sessions export --user 6f1c...
  sona sessions query --user 6f1c... --jq '.[] | select(.theme == "calming") | .sessionId'`,
}

var (
	flagUser    string
	flagLimit   int
	flagJSON    bool
	flagJQ      string
	flagSession string
)

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users, or one user's sessions",
	RunE:  runSessionsList,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a user's completed sessions to the archive",
	RunE:  runSessionsExport,
}

var sessionsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Filter a user's sessions with a jq expression",
	RunE:  runSessionsQuery,
}

func init() {
	sessionsListCmd.Flags().StringVar(&flagUser, "user", "", "user ID (omit to list users)")
	sessionsListCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum sessions to list")
	sessionsListCmd.Flags().BoolVar(&flagJSON, "json", false, "JSON output instead of YAML")

	sessionsExportCmd.Flags().StringVar(&flagUser, "user", "", "user ID (required)")
	sessionsExportCmd.Flags().StringVar(&flagSession, "session", "", "export only this session")
	sessionsExportCmd.MarkFlagRequired("user")

	sessionsQueryCmd.Flags().StringVar(&flagUser, "user", "", "user ID (required)")
	sessionsQueryCmd.Flags().StringVar(&flagJQ, "jq", ".", "jq expression over the session array")
	sessionsQueryCmd.MarkFlagRequired("user")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsExportCmd, sessionsQueryCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, store, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if flagUser == "" {
		for _, anonymous := range []bool{false, true} {
			ids, err := r.ActiveUsers(ctx, anonymous, "")
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
		}
		return nil
	}

	sessions, err := r.SessionsByUser(ctx, flagUser, flagLimit)
	if err != nil {
		return err
	}
	return emit(sessions, flagJSON)
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, store, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		return err
	}

	var sessions []*therapy.Session
	if flagSession != "" {
		sess, err := r.GetSession(ctx, flagSession)
		if err != nil {
			return err
		}
		sessions = append(sessions, sess)
	} else {
		sessions, err = r.SessionsByUser(ctx, flagUser, 0)
		if err != nil {
			return err
		}
	}

	exported := 0
	for _, sess := range sessions {
		if !sess.Completed() {
			continue
		}
		if err := archiver.Export(ctx, sess); err != nil {
			return fmt.Errorf("export %s: %w", sess.ID, err)
		}
		exported++
	}
	fmt.Printf("exported %d session(s)\n", exported)
	return nil
}

func runSessionsQuery(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, store, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	query, err := gojq.Parse(flagJQ)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", flagJQ, err)
	}

	sessions, err := r.SessionsByUser(ctx, flagUser, 0)
	if err != nil {
		return err
	}

	// gojq operates on JSON-typed values, so round-trip the records.
	buf, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(buf, &input); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// emit writes v to stdout as YAML, or JSON with --json.
func emit(v any, asJSON bool) error {
	format := cli.FormatYAML
	if asJSON {
		format = cli.FormatJSON
	}
	return cli.Output(os.Stdout, v, format)
}
