package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Cancel a running survey session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(http.MethodDelete, "/api/sessions/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s abort requested\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(abortCmd)
}
