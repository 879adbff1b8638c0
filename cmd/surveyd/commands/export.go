package commands

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/krishnanand20/audiosurvey-ai/pkg/export"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

var flagExportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export finished survey results as CSV",
	Long: `Export every finished session's answers — transcripts, detected
languages, translations, and artifact paths — as CSV, one row per
answered question. Sessions still in flight are skipped.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&flagExportOut, "output", "o", "", "write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	c := newClient()
	var sessions []*survey.Session
	if err := c.do(http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagExportOut != "" {
		f, err := os.Create(flagExportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.WriteCSV(w, sessions)
}
