package main

import (
	"github.com/spf13/cobra"

	"caesar.dev/cmd/internal/dbg"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "caesar",
		Short:         "caesar is a native process debugger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	args := createArgs(root.PersistentFlags())

	debug := debugCmd(args)
	root.AddCommand(debug, execCmd(args), dumpCmd(), dapCmd(args))
	root.RunE = debug.RunE
	root.Flags().AddFlagSet(debug.Flags())
	return root
}

func debugCmd(args *globalArgs) *cobra.Command {
	var initCmd string

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "start an interactive debugging session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := args.load()
			if err != nil {
				return err
			}
			return dbg.RunDebug(cfg, initCmd)
		},
	}
	cmd.Flags().StringVar(&initCmd, "init", "", "command to run before the first prompt")
	return cmd
}

func execCmd(args *globalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script>",
		Short: "run a debugger script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			cfg, err := args.load()
			if err != nil {
				return err
			}
			return dbg.RunExec(cfg, a[0], cmd.OutOrStdout())
		},
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <binary>",
		Short: "print the segments and sections of an executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return dbg.RunDump(a[0], cmd.OutOrStdout())
		},
	}
}

func dapCmd(args *globalArgs) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dap",
		Short: "serve the debug adapter protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := args.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.DAP.Port
			}
			return dbg.RunDAP(cfg, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen on this port instead of stdin and stdout")
	return cmd
}
