package cmd

import (
	"fmt"
	"io"
	"os"

	"golang-reconciliation-engine/cmd/reconciler/config"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cliContext carries the state shared by all commands of one invocation.
type cliContext struct {
	v          *viper.Viper
	cfgFile    string
	verbose    bool
	outputFile string

	config *config.AppConfig
	logger logger.Logger
}

// NewRootCommand builds the command tree with fresh configuration state.
func NewRootCommand() *cobra.Command {
	cc := &cliContext{v: config.New()}
	return cc.rootCommand()
}

func (cc *cliContext) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Financial record matching engine",
		Long: `Reconciler matches bank movements and invoices against purchase orders,
PO lines, invoices, expenses and receipts. It ranks match suggestions and
persists confirmed allocations without ever over-allocating a document.

Reference data comes from CSV files (loaded into the in-memory store) or from
a SQLite or PostgreSQL store populated with 'reconciler import'.

Examples:
  reconciler suggest --targets targets.csv --candidates candidates.csv --balances balances.csv --target-id BM-1
  reconciler import --storage sqlite --sqlite-path recon.db --targets targets.csv --candidates candidates.csv
  reconciler confirm --storage sqlite --sqlite-path recon.db --target-id BM-1 --link L1:4000 --link L2:3000 --actor alice
  reconciler serve --storage postgres --postgres-url postgres://localhost/recon --listen :8080`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: cc.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cc.cfgFile, "config", "", "config file (optional, YAML)")
	pf.BoolVarP(&cc.verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.StringVarP(&cc.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	pf.StringP("output-format", "f", "", "output format: console, json, csv")
	pf.String("storage", "", "storage driver: memory, sqlite, postgres")
	pf.String("sqlite-path", "", "SQLite database file")
	pf.String("postgres-url", "", "PostgreSQL connection URL")
	pf.String("targets", "", "targets CSV file to load")
	pf.String("candidates", "", "candidates CSV file to load")
	pf.String("balances", "", "balances CSV file to load")
	pf.String("tolerances", "", "tolerance scopes YAML file to load")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("strict", false, "abort on the first malformed CSV record")

	cc.bind(pf, map[string]string{
		"report.format":        "output-format",
		"storage.driver":       "storage",
		"storage.sqlite_path":  "sqlite-path",
		"storage.postgres_url": "postgres-url",
		"dataset.targets":      "targets",
		"dataset.candidates":   "candidates",
		"dataset.balances":     "balances",
		"tolerances_file":      "tolerances",
		"logging.level":        "log-level",
		"parsing.strict":       "strict",
	})

	root.AddCommand(
		cc.suggestCommand(),
		cc.confirmCommand(),
		cc.rejectCommand(),
		cc.historyCommand(),
		cc.importCommand(),
		cc.serveCommand(),
	)
	return root
}

// bind maps viper keys onto flags. A flag only wins when it was set.
func (cc *cliContext) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := cc.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}
}

// load reads the configuration and builds the logger before any command runs.
func (cc *cliContext) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cc.v, cc.cfgFile)
	if err != nil {
		return errors.InvalidConfig("config", cc.cfgFile, err).
			WithSuggestion("check the config file, RECONCILER_* variables and flags")
	}
	if cc.verbose {
		debug := logger.DebugConfig()
		cfg.Logging.Level = debug.Level
		cfg.Logging.CallerInfo = debug.CallerInfo
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return errors.InvalidConfig("logging", cfg.Logging, err)
	}

	cc.config = cfg
	cc.logger = log.WithComponent("cli")
	if cc.cfgFile != "" {
		cc.logger.WithField("config_file", cc.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the CLI with explicit arguments and streams.
func ExecuteArgs(args []string, stdout, stderr io.Writer) int {
	cc := &cliContext{v: config.New()}
	root := cc.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	return NewCLIErrorHandler(stderr, cc.logger, cc.verbose).HandleError(err)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
