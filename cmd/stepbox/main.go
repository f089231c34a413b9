package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stepbox/internal/app"
	"stepbox/internal/errors"
	hostlauncher "stepbox/internal/launcher"
	"stepbox/internal/lifecycle"
	"stepbox/internal/runtime"
	"stepbox/internal/ui"
	pkgruntime "stepbox/pkg/runtime"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "stepbox",
	Short:   "stepbox - run every build step in its own docker container",
	Version: version,
	Long: `stepbox runs the steps of a pipeline file on this machine, each one inside a
fresh docker container that shares the build workspace, and removes the build's
container once the build is over.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		logDir := viper.GetString("log_dir")
		if logDir == "" {
			logDir = filepath.Join(viper.GetString("state_dir"), "logs")
		}
		errors.Configure(errors.Options{LogDir: logDir})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline",
	Long: `Run executes the steps of a pipeline in order. Each step runs in a new container
started from the pipeline's image; steps that manage containers themselves run on
the host. The build stops at the first failing step. Interrupting the build kills
the running step and the build container is removed in every case.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		executor := app.NewExecutor(app.Options{
			PipelinePath: file,
			StateDir:     viper.GetString("state_dir"),
			Runtime:      openRuntime,
		})
		if _, err := executor.Run(ctx); err != nil {
			errors.HandleError(err)
			stop()
			os.Exit(errors.ExitCode(err))
		}
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the next build of a pipeline would run",
	Long: `Plan resolves the container name, image and docker run command of the next build
and lists each step with whether it would run in the container. Nothing is executed
and the job state is left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")

		executor := app.NewExecutor(app.Options{
			PipelinePath: file,
			StateDir:     viper.GetString("state_dir"),
		})
		plan, err := executor.Plan(cmd.Context())
		if err != nil {
			errors.HandleError(err)
			os.Exit(errors.ExitCode(err))
		}

		fmt.Printf("Next build: %s\n", plan)
		out, err := yaml.Marshal(plan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Kill and remove a build container",
	Long: `Cleanup runs the teardown of a build by hand: the named container is killed and
then removed. Both commands are attempted even when the container is already gone.`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		binary, _ := cmd.Flags().GetString("binary")

		l := hostlauncher.NewLocal(os.Stdout)
		res := lifecycle.NewManager(l, binary, os.Stdout).Cleanup(cmd.Context(), name)
		fmt.Printf("kill status: %d, rm status: %d\n", res.StopStatus, res.RemoveStatus)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that docker and the build image are available",
	Long: `Doctor verifies that the docker daemon answers and, when --image is given, that
the image exists locally. With --pull a missing image is pulled.`,
	Run: func(cmd *cobra.Command, args []string) {
		image, _ := cmd.Flags().GetString("image")
		pull, _ := cmd.Flags().GetBool("pull")

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			errors.HandleError(errors.NewRuntimeError("Cannot connect to Docker", err.Error(),
				"Start Docker or point DOCKER_HOST at a running daemon", err))
			os.Exit(1)
		}
		defer rt.Close()

		if err := app.Doctor(cmd.Context(), rt, image, pull, ui.NewConsole()); err != nil {
			errors.HandleError(err)
			rt.Close()
			os.Exit(errors.ExitCode(err))
		}
	},
}

func openRuntime(ctx context.Context) (pkgruntime.ContainerRuntime, error) {
	return runtime.NewDockerRuntime(ctx)
}

func init() {
	viper.SetEnvPrefix("STEPBOX")
	viper.AutomaticEnv()
	viper.SetDefault("state_dir", app.DefaultStateDir)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Write debug logs to stderr")
	rootCmd.PersistentFlags().String("state-dir", app.DefaultStateDir, "Directory holding the per-job build state (env STEPBOX_STATE_DIR)")
	rootCmd.PersistentFlags().String("log-dir", "", "Directory for the error log (env STEPBOX_LOG_DIR, default <state-dir>/logs)")
	if err := viper.BindPFlag("log_dir", rootCmd.PersistentFlags().Lookup("log-dir")); err != nil {
		slog.Error("Failed to bind log-dir flag", "error", err)
	}
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		slog.Error("Failed to bind verbose flag", "error", err)
	}
	if err := viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir")); err != nil {
		slog.Error("Failed to bind state-dir flag", "error", err)
	}

	runCmd.Flags().StringP("file", "f", "", "Path to the pipeline YAML file (required)")
	if err := runCmd.MarkFlagRequired("file"); err != nil {
		slog.Error("Failed to mark file flag as required for run command", "error", err)
	}
	rootCmd.AddCommand(runCmd)

	planCmd.Flags().StringP("file", "f", "", "Path to the pipeline YAML file (required)")
	if err := planCmd.MarkFlagRequired("file"); err != nil {
		slog.Error("Failed to mark file flag as required for plan command", "error", err)
	}
	rootCmd.AddCommand(planCmd)

	cleanupCmd.Flags().String("name", "", "Name of the container to remove (required)")
	cleanupCmd.Flags().String("binary", "", "Container CLI to run (default docker)")
	if err := cleanupCmd.MarkFlagRequired("name"); err != nil {
		slog.Error("Failed to mark name flag as required for cleanup command", "error", err)
	}
	rootCmd.AddCommand(cleanupCmd)

	doctorCmd.Flags().String("image", "", "Image the builds run in")
	doctorCmd.Flags().Bool("pull", false, "Pull the image when it is missing")
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
