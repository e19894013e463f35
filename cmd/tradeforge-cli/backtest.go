package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"

	"tradeforge/internal/api"
	"tradeforge/internal/app"
	"tradeforge/internal/backtest"
	"tradeforge/internal/config"
	"tradeforge/internal/strategy"
	"tradeforge/pkg/tradeforge"
)

var (
	btStrategy   string
	btStrategyID string
	btParams     string
	btSymbols    []string
	btStart      string
	btEnd        string
	btCapital    float64
	btSettings   string
	btServer     string
	btGRPC       string
	btFormat     string
	btTimeout    time.Duration
)

// backtestCmd implements 'tradeforge-cli backtest'
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy backtest over one or more symbols",
	Long: `Run a backtest locally, against a tradeforge-server over HTTP (--server),
or over gRPC (--grpc). Several symbols run as a batch with a combined summary.

Example usage:
  tradeforge-cli backtest --strategy maCrossover --symbols AAPL --start 2023-01-01 --end 2024-01-01
  tradeforge-cli backtest --strategy momentum --params '{"rsiPeriod":10}' --symbols AAPL,MSFT,NVDA
  tradeforge-cli backtest --strategy bollinger --symbols SPY --server http://localhost:8080 --format json
  tradeforge-cli backtest --strategy breakout --symbols QQQ --grpc localhost:9090`,
	RunE: runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&btStrategy, "strategy", "", "Strategy kind: "+kindList())
	f.StringVar(&btStrategyID, "strategy-id", "", "Saved strategy ID (requires --server or --grpc)")
	f.StringVar(&btParams, "params", "", "Strategy parameters as JSON")
	f.StringSliceVar(&btSymbols, "symbols", nil, "Symbols to backtest (comma separated)")
	f.StringVar(&btStart, "start", "", "Start date, YYYY-MM-DD (default one year before end)")
	f.StringVar(&btEnd, "end", "", "End date, YYYY-MM-DD (default today)")
	f.Float64Var(&btCapital, "capital", 0, "Initial capital (default from config)")
	f.StringVar(&btSettings, "settings", "", "Risk settings file, YAML or JSON")
	f.StringVar(&btServer, "server", "", "tradeforge-server base URL")
	f.StringVar(&btGRPC, "grpc", "", "tradeforge-server gRPC address")
	f.StringVar(&btFormat, "format", "table", "Output format: table, json")
	f.DurationVar(&btTimeout, "timeout", 5*time.Minute, "Overall timeout")
	backtestCmd.MarkFlagRequired("symbols")
}

func kindList() string {
	kinds := strategy.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if btServer != "" && btGRPC != "" {
		return fmt.Errorf("--server and --grpc are mutually exclusive")
	}
	if btStrategyID != "" && btServer == "" && btGRPC == "" {
		return fmt.Errorf("--strategy-id requires --server or --grpc")
	}

	bc, err := buildConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), btTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	switch {
	case btGRPC != "":
		if len(btSymbols) > 1 {
			return fmt.Errorf("--grpc runs one symbol at a time, got %d", len(btSymbols))
		}
		conn, err := grpc.NewClient(btGRPC, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", btGRPC, err)
		}
		defer conn.Close()
		res, err := api.NewBacktestClient(conn).RunConfig(ctx, bc)
		if err != nil {
			return err
		}
		return printResult(out, res)

	case btServer != "":
		client := tradeforge.NewClient(btServer)
		if len(btSymbols) > 1 {
			batch, err := client.RunBatch(ctx, bc, btSymbols)
			if err != nil {
				return err
			}
			return printBatch(out, batch.Results, batch.Summary)
		}
		res, err := client.RunBacktest(ctx, bc)
		if err != nil {
			return err
		}
		return printResult(out, res)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if len(btSymbols) > 1 {
		results, err := a.Backtester.RunBatch(ctx, bc, btSymbols)
		if err != nil {
			return err
		}
		return printBatch(out, results, backtest.Summarize(results))
	}
	res, err := a.Backtester.Run(ctx, bc)
	if err != nil {
		return err
	}
	return printResult(out, res)
}

// buildConfig turns the flags into a run description. Local and gRPC runs
// take risk settings and capital defaults from the configuration file.
func buildConfig(cfg *config.Config) (backtest.Config, error) {
	bc := backtest.Config{
		StrategyID:          btStrategyID,
		Kind:                strategy.Kind(btStrategy),
		Symbol:              strings.ToUpper(strings.TrimSpace(btSymbols[0])),
		InitialCapital:      btCapital,
		AnnualizationFactor: cfg.Backtest.AnnualizationFactor,
	}
	for i, s := range btSymbols {
		btSymbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if bc.InitialCapital == 0 {
		bc.InitialCapital = cfg.Backtest.InitialCapital
	}
	if btParams != "" {
		if !json.Valid([]byte(btParams)) {
			return bc, fmt.Errorf("--params is not valid JSON")
		}
		bc.Params = json.RawMessage(btParams)
	}

	var err error
	if bc.Start, err = backtest.ParseDate(btStart); err != nil {
		return bc, fmt.Errorf("--start: %w", err)
	}
	if bc.End, err = backtest.ParseDate(btEnd); err != nil {
		return bc, fmt.Errorf("--end: %w", err)
	}

	settings := cfg.Risk
	if btSettings != "" {
		data, err := os.ReadFile(btSettings)
		if err != nil {
			return bc, fmt.Errorf("reading settings: %w", err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return bc, fmt.Errorf("parsing settings %s: %w", btSettings, err)
		}
		if err := settings.Validate(); err != nil {
			return bc, err
		}
	}
	if btStrategyID == "" || btSettings != "" {
		bc.Settings = &settings
	}
	return bc, nil
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func printResult(w io.Writer, res *backtest.Result) error {
	if strings.EqualFold(btFormat, "json") {
		return writeJSON(w, res)
	}
	m := res.Metrics
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Strategy\t%s\n", res.Kind)
	fmt.Fprintf(tw, "Symbol\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Initial capital\t%.2f\n", m.InitialCapital)
	fmt.Fprintf(tw, "Final value\t%.2f\n", m.FinalValue)
	fmt.Fprintf(tw, "Total return\t%.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(tw, "Sharpe\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(tw, "Sortino\t%.3f\n", m.SortinoRatio)
	fmt.Fprintf(tw, "Trades\t%d (%d closed)\n", m.TotalTrades, m.ClosedTrades)
	fmt.Fprintf(tw, "Win rate\t%.1f%%\n", m.WinRate*100)
	fmt.Fprintf(tw, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(tw, "Rejections\t%d\n", len(res.Rejections))
	return tw.Flush()
}

func printBatch(w io.Writer, results []backtest.SymbolResult, sum backtest.BatchSummary) error {
	if strings.EqualFold(btFormat, "json") {
		return writeJSON(w, struct {
			Results []backtest.SymbolResult `json:"results"`
			Summary backtest.BatchSummary   `json:"summary"`
		}{results, sum})
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tRETURN\tDRAWDOWN\tSHARPE\tTRADES\tERROR")
	for _, r := range results {
		if r.Result == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s\n", r.Symbol, r.Error)
			continue
		}
		m := r.Result.Metrics
		fmt.Fprintf(tw, "%s\t%.2f%%\t%.2f%%\t%.3f\t%d\t\n", r.Symbol, m.TotalReturnPct, m.MaxDrawdownPct, m.SharpeRatio, m.TotalTrades)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d/%d succeeded, combined return %.2f%%, average Sharpe %.3f, worst drawdown %.2f%%\n",
		sum.Succeeded, sum.Symbols, sum.CombinedReturnPct, sum.AverageSharpe, sum.WorstDrawdownPct)
	if sum.BestSymbol != "" {
		fmt.Fprintf(w, "best %s, worst %s\n", sum.BestSymbol, sum.WorstSymbol)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
