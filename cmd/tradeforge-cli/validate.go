package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tradeforge/internal/condition"
	"tradeforge/internal/strategy"
)

var (
	valFile      string
	valCondition string
	valFormat    string
)

// validateCmd implements 'tradeforge-cli validate'
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a custom strategy or a single condition tree",
	Long: `Validate a custom strategy document ({"buyConditions": ..., "sellConditions": ...})
read from --file ("-" for stdin), or a single condition node given with --condition.
The command exits non-zero when the input is invalid.

Example usage:
  tradeforge-cli validate --file strategy.json
  tradeforge-cli validate --condition '{"type":"and","children":[]}'`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&valFile, "file", "", "Strategy JSON file, or - for stdin")
	validateCmd.Flags().StringVar(&valCondition, "condition", "", "Single condition node as JSON")
	validateCmd.Flags().StringVar(&valFormat, "format", "table", "Output format: table, json")
}

type strategyDocument struct {
	Buy  strategy.Conditions `json:"buyConditions"`
	Sell strategy.Conditions `json:"sellConditions"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch {
	case valCondition != "" && valFile != "":
		return fmt.Errorf("--file and --condition are mutually exclusive")
	case valCondition != "":
		var node condition.RawNode
		if err := json.Unmarshal([]byte(valCondition), &node); err != nil {
			return fmt.Errorf("parsing condition: %w", err)
		}
		res := condition.ValidateConditionNode(node)
		if strings.EqualFold(valFormat, "json") {
			if err := writeJSON(out, res); err != nil {
				return err
			}
		} else if res.Valid {
			fmt.Fprintln(out, "valid")
		} else {
			fmt.Fprintf(out, "invalid at %s: %s\n", res.Path, res.Error)
		}
		if !res.Valid {
			return fmt.Errorf("condition is invalid")
		}
		return nil
	case valFile != "":
	default:
		return fmt.Errorf("one of --file or --condition is required")
	}

	data, err := readInput(cmd.InOrStdin(), valFile)
	if err != nil {
		return err
	}
	var doc strategyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", valFile, err)
	}
	report := strategy.ValidateStrategy(doc.Buy, doc.Sell)
	if strings.EqualFold(valFormat, "json") {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		for _, e := range report.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if report.Valid {
			fmt.Fprintln(out, "valid")
		}
	}
	if !report.Valid {
		return fmt.Errorf("strategy has %d error(s)", len(report.Errors))
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
