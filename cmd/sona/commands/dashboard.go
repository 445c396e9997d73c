package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumenkind/sona/pkg/cli"
	"github.com/lumenkind/sona/pkg/continuity"
	"github.com/lumenkind/sona/pkg/session"
)

var (
	flagDashJSON  bool
	flagDashLimit int
	flagDashWidth int
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard <user-id>",
	Short: "Render a user's progress dashboard",
	Long: `Render a user's recent sessions and trend signals.

The dashboard is derived data only: mood trend, consistency score, and
per-session digests. Transcripts are never decrypted.`,
	Args: cobra.ExactArgs(1),
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().BoolVar(&flagDashJSON, "json", false, "JSON output instead of the card view")
	dashboardCmd.Flags().IntVar(&flagDashLimit, "limit", 10, "recent sessions to include")
	dashboardCmd.Flags().IntVar(&flagDashWidth, "width", 72, "card width in columns")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	setupLogging()
	userID := args[0]

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

	vaultSvc, err := buildVault(ctx, cfg)
	if err != nil {
		return fmt.Errorf("encryption service: %w", err)
	}
	eng := continuity.New(r)
	orch, err := session.New(session.Config{
		Repo:       r,
		Vault:      vaultSvc,
		Continuity: eng,
	})
	if err != nil {
		return err
	}

	insights := orch.GetSessionInsights(ctx, userID, flagDashLimit)
	if flagDashJSON {
		return cli.Output(os.Stdout, insights, cli.FormatJSON)
	}

	fmt.Println(renderInsights(userID, insights, flagDashWidth))
	return nil
}

func renderInsights(userID string, ins *session.Insights, width int) string {
	styles := cli.NewStyles(cli.DefaultTheme)
	card := cli.Card{
		Styles: styles,
		Title:  "sona · " + userID,
		Rows: []cli.Row{
			{Label: "Sessions", Value: strconv.Itoa(ins.TotalSessions)},
			{Label: "Trend", Value: string(ins.Progress.MoodTrend)},
			{Label: "Consistency", Value: fmt.Sprintf("%.2f", ins.Progress.ConsistencyScore)},
		},
	}
	for _, s := range ins.Sessions {
		line := s.StartTime.Format(time.DateOnly) +
			"  " + cli.MoodBar(s.InitialMood, s.FinalMood) +
			"  " + s.Theme
		if s.DurationSeconds > 0 {
			line += "  " + cli.FormatSeconds(s.DurationSeconds)
		}
		card.Tail = append(card.Tail, line)
	}
	if len(ins.Sessions) == 0 {
		card.Tail = []string{"no sessions recorded"}
	}
	return card.Render(width)
}
