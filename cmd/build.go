package cmd

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gmpbuild/internal/config"
	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/orchestrator"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
)

var (
	colArrow   = color.HEX("#FFEB3B")
	colSuccess = color.HEX("#1976D2")
)

var buildCmd = &cobra.Command{
	Use:          "build",
	Short:        "Build or restore the native libraries",
	Long:         `Make GMP, MPFR and MPC available in the output directory and print the link directives.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

// newRunner creates the runner for external commands. Child output goes to
// stderr; stdout carries only link directives.
var newRunner = func(logger *log.Logger) runner.Runner {
	return runner.New(logger, os.Stderr, os.Stderr)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return err
	}

	logger := log.NewLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	e, err := env.Resolve(cfg)
	if err != nil {
		return err
	}

	sugar := logger.Sugar()
	sugar.Infof("building %s for %s into %s", e.Version, e.Target, e.OutDir)

	if e.CacheEnabled() {
		sugar.Debugf("artifact cache at %s", e.CacheDir)
	} else {
		sugar.Warnf("artifact cache disabled, every build of %s starts from source", e.Version)
	}

	res, err := orchestrator.New(e, newRunner(logger), logger, cmd.OutOrStdout()).Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.ErrOrStderr(), colArrow.Sprint("-> "))
	fmt.Fprintln(cmd.ErrOrStderr(), colSuccess.Sprintf("Libraries ready (%s): %v", res.Source, res.Directives.Libs))

	return nil
}
