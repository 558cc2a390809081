package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRoot constructs the root cobra command and wires subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.SetOut(out)

	offdocCommand := command{out: out, version: version}

	root.AddCommand(
		createRunCommand(offdocCommand, globalFlags),
		createBackendCommand(offdocCommand, globalFlags),
		createStatusCommand(offdocCommand, globalFlags),
		createChatCommand(offdocCommand, globalFlags),
		createSymptomsCommand(offdocCommand, globalFlags),
		createMedsCommand(offdocCommand, globalFlags),
		createHistoryCommand(offdocCommand, globalFlags),
		createSettingsCommand(offdocCommand, globalFlags),
		createSysInfoCommand(offdocCommand, globalFlags),
		createVersionCommand(offdocCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "offdoc",
		Short: "Offline medical assistant",
		Long: `offdoc runs a medical consultation assistant entirely on this machine.
It supervises the local backend, tracks whether the model runtime is usable
and keeps history, medications and settings in a local store.

Examples:
  offdoc run                         # supervise the backend and serve the bridge
  offdoc backend --addr=127.0.0.1:5000
  offdoc chat "I have had a headache since yesterday"
  offdoc symptoms fever,cough
  offdoc meds add Ibuprofen
  offdoc status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

func createRunCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"serve"},
		Short:   "Start the backend and the local bridge",
		Long: `Start the supervised backend, probe the model runtime and serve the
local bridge API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *runFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Run(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&runFlags.NoBridge, "no-bridge", false, "do not serve the bridge API")
	cmd.Flags().BoolVar(&runFlags.NoBackend, "no-backend", false, "do not launch the backend process")
	return cmd
}

func createBackendCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	backendFlags := &BackendFlags{}
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve the consultation backend",
		Long: `Serve the HTTP consultation backend on top of the local model runtime.
This is the process 'offdoc run' supervises when backend.command points at it.

Examples:
  offdoc backend
  offdoc backend --addr=127.0.0.1:5001 --model=llama3.1:8b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *backendFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Backend(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&backendFlags.Addr, "addr", "", "listen address (default backend.addr)")
	cmd.Flags().StringVar(&backendFlags.Model, "model", "", "model name (default runtime.model)")
	cmd.Flags().StringVar(&backendFlags.Host, "host", "", "model runtime URL (default runtime.host)")
	return cmd
}

func createStatusCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	statusFlags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show readiness and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *statusFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Status(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&statusFlags.NoProbe, "no-probe", false, "skip the runtime and health probes")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "bridge URL of a running offdoc (e.g. http://127.0.0.1:5050)")
	return cmd
}

func createChatCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	chatFlags := &ChatFlags{}
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the assistant a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *chatFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Chat(cmd.Context(), f, strings.Join(args, " "))
		},
	}
	cmd.Flags().DurationVar(&chatFlags.Timeout, "timeout", 0, "overall request timeout (default 2m)")
	cmd.Flags().StringVar(&chatFlags.APIUrl, "api-url", "", "bridge URL of a running offdoc")
	return cmd
}

func createSymptomsCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	chatFlags := &ChatFlags{}
	cmd := &cobra.Command{
		Use:   "symptoms <symptom>...",
		Short: "Analyze a list of symptoms",
		Long: `Analyze a list of symptoms. Symptoms may be given as separate arguments
or comma separated.

Examples:
  offdoc symptoms fever cough
  offdoc symptoms "sore throat,fatigue"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *chatFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Symptoms(cmd.Context(), f, args)
		},
	}
	cmd.Flags().DurationVar(&chatFlags.Timeout, "timeout", 0, "overall request timeout (default 2m)")
	cmd.Flags().StringVar(&chatFlags.APIUrl, "api-url", "", "bridge URL of a running offdoc")
	return cmd
}

func createMedsCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meds",
		Short: "Manage the saved medication list",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved medications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return offdocCommand.MedsList(cmd.Context(), globalFlags.ConfigPath)
		},
	}
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a medication",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return offdocCommand.MedsAdd(cmd.Context(), globalFlags.ConfigPath, strings.Join(args, " "))
		},
	}
	remove := &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Remove a medication by its list index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return offdocCommand.MedsRemove(cmd.Context(), globalFlags.ConfigPath, args[0])
		},
	}
	interactionFlags := &ChatFlags{}
	interactions := &cobra.Command{
		Use:   "interactions",
		Short: "Check the saved medications for interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *interactionFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.MedsInteractions(cmd.Context(), f)
		},
	}
	interactions.Flags().DurationVar(&interactionFlags.Timeout, "timeout", 0, "overall request timeout (default 2m)")
	interactions.Flags().StringVar(&interactionFlags.APIUrl, "api-url", "", "bridge URL of a running offdoc")

	cmd.AddCommand(list, add, remove, interactions)
	return cmd
}

func createHistoryCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	historyFlags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear consultation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *historyFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.History(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&historyFlags.Clear, "clear", false, "delete all saved history")
	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 0, "show at most this many records, newest first")
	return cmd
}

func createSettingsCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	settingsFlags := &SettingsFlags{}
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change privacy settings",
		Long: `Show the privacy settings, or change them with the flags.

Examples:
  offdoc settings
  offdoc settings --save-history=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *settingsFlags
			f.ConfigPath = globalFlags.ConfigPath
			return offdocCommand.Settings(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&settingsFlags.SaveHistory, "save-history", "", "true or false")
	cmd.Flags().StringVar(&settingsFlags.AnonymizeData, "anonymize-data", "", "true or false")
	return cmd
}

func createSysInfoCommand(offdocCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sysinfo",
		Short: "Show host information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return offdocCommand.SysInfo(cmd.Context(), globalFlags.ConfigPath)
		},
	}
}

func createVersionCommand(offdocCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(offdocCommand.out, "offdoc %s\n", offdocCommand.version)
		},
	}
}
