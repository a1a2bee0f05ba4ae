package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/20af02/netrelay/crypto"
	"github.com/20af02/netrelay/hostapi"
	"github.com/20af02/netrelay/p2p"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

// NewNodeCLI creates the command tree used to drive a running node.
func NewNodeCLI(n *Node, rt *hostapi.Runtime) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:           "netrelay",
		Short:         "netrelay node shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// send Command
	var sendTo string
	sendCmd := &cobra.Command{
		Use:   "send [relay] [payload]",
		Short: "Send a message through a relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := p2p.Protocol{ID: crypto.GenerateID(), To: sendTo, Payload: []byte(args[1])}
			if err := n.Send(cmd.Context(), args[0], msg); err != nil {
				return fmt.Errorf("send via %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s via [%s]\n", msg.ID, args[0])
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			// Reset flag to its default value before each run
			return cmd.Flags().Set("to", "")
		},
	}
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "Destination address for addressed backends")

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Tick every relay once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			busy, err := n.Tick(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d relay(s) did work\n", busy)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop [relay]",
		Short: "Stop a relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := n.StopRelay(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] stopped\n", args[0])
			return nil
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List relays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := n.Relays(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "Relay\tDelivered")
			for _, name := range names {
				count := "-"
				if n.Journal != nil {
					c, err := n.Journal.Count(name)
					if err != nil {
						return err
					}
					count = fmt.Sprint(c)
				}
				fmt.Fprintf(w, "%s\t%s\n", name, count)
			}
			return w.Flush()
		},
	}

	logCmd := &cobra.Command{
		Use:   "log [relay]",
		Short: "Show messages a relay delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n.Journal == nil {
				return errors.New("no journal configured")
			}
			msgs, err := n.Journal.List(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFrom\tPayload")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%q\n", m.ID, m.From, m.String())
			}
			return w.Flush()
		},
	}

	invokeCmd := &cobra.Command{
		Use:   "invoke [json-args]",
		Short: `Run the send host call, e.g. invoke {"relay":"echo","payload":"hi"}`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := hostapi.InvokeSend(rt, strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), code)
			if code != hostapi.CodeSuccess {
				return fmt.Errorf("host call failed: %w", rt.LastError())
			}
			return nil
		},
	}

	rootCmd.AddCommand(sendCmd, tickCmd, stopCmd, lsCmd, logCmd, invokeCmd)

	return rootCmd
}

func Tui(rootCmd *cobra.Command) {
	prompt := promptui.Prompt{
		Label: "netrelay > ",
		Validate: func(input string) error {
			if len(input) == 0 {
				return errors.New("please enter a command")
			}
			return nil
		},
		Stdin: os.Stdin,
	}

	// Interactive CLI Loop with Promptui
	for {
		input, err := prompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt || err == promptui.ErrEOF {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		cmdArgs := strings.Fields(input)
		if len(cmdArgs) == 0 {
			continue
		}
		if cmdArgs[0] == "exit" || cmdArgs[0] == "quit" {
			return
		}
		if _, _, err := rootCmd.Find(cmdArgs); err != nil {
			fmt.Fprintln(os.Stderr, "Invalid command:", err)
			continue
		}

		rootCmd.SetArgs(cmdArgs)
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
