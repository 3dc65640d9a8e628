package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"jobrunner/internal/app"
	"jobrunner/internal/config"
	runnerErrors "jobrunner/internal/errors"
	"jobrunner/internal/generator"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "jobrunner",
	Short:   "jobrunner - one-shot runner for ephemeral GPU/CPU job machines",
	Version: version,
	Long: `jobrunner runs once on a freshly provisioned machine. It fetches its job
config from the backend, runs the platform setup scripts, streams the first
lines of workload startup output and then runs the workload with all output
kept on the machine.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job assigned to this machine",
	Long: `Run drives the machine through the whole job lifecycle: network wait,
connectivity check, job id resolution, config fetch, setup scripts, image pull,
observed startup run, privacy boundary and the silent workload run.

Settings come from the --config file, JOBRUNNER_* environment variables and
flags, in increasing priority.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			exit(err)
		}

		exit(app.Run(context.Background(), settings))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate settings and container runtime access",
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			exit(err)
		}

		if err := app.ValidatePrerequisites(settings); err != nil {
			exit(runnerErrors.NewRuntimeError(
				"Checking prerequisites",
				err.Error(),
				"Make sure the Docker daemon is installed and running on this machine.",
				err,
			))
		}

		fmt.Println("All prerequisites satisfied.")
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render the cloud-config boot artifact for a job machine",
	Long: `Generate renders a #cloud-config document that installs Docker, writes the
runner settings and setup scripts to their fixed paths, downloads the runner
binary and starts it once at boot. All embedded files are base64 encoded.`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		opts := generator.Options{}
		opts.BackendURL, _ = flags.GetString("backend-url")
		opts.JobID, _ = flags.GetString("job-id")
		opts.BinaryURL, _ = flags.GetString("binary-url")
		opts.ScriptsDir, _ = flags.GetString("scripts-dir")
		opts.NetworkWait, _ = flags.GetDuration("network-wait")
		opts.MaxStartupLines, _ = flags.GetInt("max-startup-lines")

		data, err := generator.Generate(opts)
		if err != nil {
			exit(runnerErrors.NewSettingsError("Generating boot artifact", err.Error(), "", err))
		}

		out, _ := flags.GetString("out")
		if out == "" {
			if _, err := os.Stdout.Write(data); err != nil {
				exit(err)
			}
			return
		}

		if err := os.WriteFile(out, data, 0600); err != nil {
			exit(runnerErrors.NewFileSystemError(
				"Writing boot artifact",
				fmt.Sprintf("failed to write %s", out),
				"Check that the output directory exists and is writable.",
				err,
			))
		}
		fmt.Fprintf(os.Stderr, "Boot artifact written to: %s\n", out)
	},
}

// loadSettings reads the runner settings. The default settings file is
// optional; an explicitly given one must exist.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			configFile = ""
		}
	}

	settings, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, runnerErrors.NewSettingsError(
			"Loading runner settings",
			err.Error(),
			"Set backend_url and job_id in the settings file or via JOBRUNNER_BACKEND_URL and JOBRUNNER_JOB_ID.",
			err,
		)
	}
	return settings, nil
}

func exit(err error) {
	runnerErrors.HandleError(err)
	os.Exit(runnerErrors.ExitCode(err))
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, checkCmd} {
		cmd.Flags().StringP("config", "c", config.DefaultConfigPath, "Path to the runner settings YAML file")
		config.RegisterFlags(cmd.Flags())
		rootCmd.AddCommand(cmd)
	}

	generateCmd.Flags().String("backend-url", "", "Base URL of the backend job service (required)")
	generateCmd.Flags().String("job-id", "", "Job name or numeric id baked into the artifact (required)")
	generateCmd.Flags().String("binary-url", "", "URL the machine downloads the jobrunner binary from (required)")
	generateCmd.Flags().String("scripts-dir", "", "Local directory of *.sh setup scripts to ship")
	generateCmd.Flags().Duration("network-wait", 0, "Override the runner's network wait")
	generateCmd.Flags().Int("max-startup-lines", 0, "Override the runner's startup line cap")
	generateCmd.Flags().StringP("out", "o", "", "Write the artifact to a file instead of stdout")
	for _, name := range []string{"backend-url", "job-id", "binary-url"} {
		if err := generateCmd.MarkFlagRequired(name); err != nil {
			slog.Error("Failed to mark flag as required for generate command", "flag", name, "error", err)
		}
	}
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runnerErrors.ExitSettings)
	}
}
