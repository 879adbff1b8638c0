package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/krishnanand20/audiosurvey-ai/pkg/cli"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show survey sessions",
	Long: `Without arguments, list every session known to the daemon.
With a session ID, show that session's answers and stage results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	styles := cli.NewStyles(cli.DefaultTheme)

	if len(args) == 1 {
		var s survey.Session
		if err := c.do(http.MethodGet, "/api/sessions/"+url.PathEscape(args[0]), nil, &s); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), cli.SessionDetail(styles, &s))
		return nil
	}

	var sessions []*survey.Session
	if err := c.do(http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), cli.SessionTable(styles, sessions))
	return nil
}
