package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gmpbuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "gmpbuild",
	Short: "Build GMP, MPFR and MPC for cgo",
	Long: `Build static GMP, MPFR and MPC libraries from vendored sources,
reusing earlier builds and a per-user artifact cache where possible, and
emit the link metadata and generated Go files cgo packages need.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	flags := rootCmd.PersistentFlags()
	flags.StringP("out-dir", "o", "", "Output root for lib/, include/ and generated files")
	flags.String("host", "", "Host triple")
	flags.String("target", "", "Target triple (must equal the host triple)")
	flags.String("toolchain", "", "Host compiler driver used for cgo probes (e.g. go)")
	flags.String("cc", "", "C compiler")
	flags.String("ar", "", "Archiver")
	flags.String("make", "", "make program")
	flags.String("sh", "", "Shell used to run configure")
	flags.IntP("jobs", "j", 0, "Parallel make jobs")
	flags.String("profile", "", "Build profile of the invoking build (release enables make check)")
	flags.String("pkg-version", "", "Package version used to key the artifact cache")
	flags.String("cache-dir", "", "Artifact cache root (empty disables caching)")
	flags.Bool("no-cache", false, "Disable the artifact cache")
	flags.Bool("mpfr", true, "Build MPFR")
	flags.Bool("mpc", true, "Build MPC (implies --mpfr)")
	flags.Bool("ctest", false, "Always run make check")
	flags.Bool("cnotest", false, "Skip make check in release builds")
	flags.Bool("keep-build", false, "Keep the scratch build directory")
	flags.String("src-dir", "", "Directory holding the vendored sources")
	flags.String("facts-package", "", "Package name of the generated Go files")
	flags.BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
}
