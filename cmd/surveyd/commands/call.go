package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/krishnanand20/audiosurvey-ai/pkg/api"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

var flagParticipant string

var callCmd = &cobra.Command{
	Use:   "call <phone-number>",
	Short: "Place one survey call",
	Long: `Place a survey call to the given number through a running surveyd.
The daemon's configured question list is used.

Example:
  surveyd call +15550100`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&flagParticipant, "participant", "", "participant ID to record the attempt under")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var s survey.Session
	err := newClient().do(http.MethodPost, "/api/sessions", api.CreateRequest{
		Destination: args[0],
		Participant: flagParticipant,
	}, &s)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s dialing %s (%d questions)\n", s.ID, s.Destination, len(s.Questions))
	return nil
}
