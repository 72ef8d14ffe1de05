package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
)

var (
	detectTitle  string
	detectSource string
	detectURL    string
	detectFile   string
)

var detectCmd = &cobra.Command{
	Use:   "detect [text]",
	Short: "Classify listing text as VOSE or dubbed and print the evidence",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := ""
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := readInput(cmd.InOrStdin(), detectFile)
			if err != nil {
				return err
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return eris.New("detect: no text given")
		}

		_, det, _, err := initClassifier(cfg)
		if err != nil {
			return err
		}

		res := det.Detect(classify.Input{
			Text:   text,
			Title:  detectTitle,
			URL:    detectURL,
			Source: model.SourceID(strings.ToLower(detectSource)),
		})
		return writeJSON(cmd.OutOrStdout(), "", res)
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectTitle, "title", "", "movie title")
	detectCmd.Flags().StringVar(&detectSource, "source", "", "source ID the text came from")
	detectCmd.Flags().StringVar(&detectURL, "url", "", "listing URL")
	detectCmd.Flags().StringVar(&detectFile, "file", "", "read text from this file (default stdin)")
	rootCmd.AddCommand(detectCmd)
}
