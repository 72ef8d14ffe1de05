package main

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/validate"
)

var (
	validateOut    string
	validateDedupe bool
)

type validateOutput struct {
	Showtimes []model.Showtime       `json:"showtimes"`
	Report    model.ValidationReport `json:"report"`
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Run the validation rules over a JSON batch of showtimes",
	Long:  "Reads a JSON array of showtimes, or an object with a \"showtimes\" field such as the output of run, from a file or stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		data, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		batch, err := decodeBatch(data)
		if err != nil {
			return err
		}

		_, _, engine, err := initClassifier(cfg)
		if err != nil {
			return err
		}

		out, report := engine.Validate(batch)
		if validateDedupe {
			out = validate.Dedupe(out, engine.Settings().DuplicateWindow)
		}
		if out == nil {
			out = []model.Showtime{}
		}
		return writeJSON(cmd.OutOrStdout(), validateOut, validateOutput{Showtimes: out, Report: report})
	},
}

// decodeBatch accepts a bare array or an object with a showtimes field.
func decodeBatch(data []byte) ([]model.Showtime, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, eris.New("validate: empty input")
	}
	if trimmed[0] == '[' {
		var batch []model.Showtime
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, eris.Wrap(err, "validate: decode batch")
		}
		return batch, nil
	}
	var wrapped struct {
		Showtimes []model.Showtime `json:"showtimes"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, eris.Wrap(err, "validate: decode batch")
	}
	return wrapped.Showtimes, nil
}

func init() {
	validateCmd.Flags().StringVar(&validateOut, "out", "", "write the result JSON to this file (default stdout)")
	validateCmd.Flags().BoolVar(&validateDedupe, "dedupe", false, "keep only the best record of each duplicate group")
	rootCmd.AddCommand(validateCmd)
}
