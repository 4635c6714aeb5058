package cmd

import (
	"fmt"
	"time"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/control"
	"github.com/spf13/cobra"
)

var (
	ctlEndpoint string
	ctlName     string
	ctlTimeout  time.Duration
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send control commands to a running service",
	Long: `Talk to a service's control endpoint. The endpoint is given directly with
--endpoint or resolved from the configuration with --name.`,
}

// withControl opens a control client for the selected service
func withControl(fn func(client *control.Client) error) error {
	endpoint, err := resolveEndpoint(ctlEndpoint, ctlName, (*config.ServiceConfig).ControlURI)
	if err != nil {
		return err
	}

	client, err := control.NewClient(endpoint, ctlTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client)
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status [counter]",
	Short: "Show the service counters",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(client *control.Client) error {
			if len(args) == 1 {
				value, err := client.Call(control.CommandStatus, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("%s %s\n", keyStyle.Render(args[0]+":"), value)
				return nil
			}

			counters, err := client.Status()
			if err != nil {
				return err
			}
			cmd.Println(renderCounters("Status", counters))
			return nil
		})
	},
}

var ctlPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the service answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(client *control.Client) error {
			start := time.Now()
			if err := client.Ping(); err != nil {
				return err
			}
			cmd.Println(successStyle.Render(fmt.Sprintf("pong in %s", time.Since(start).Round(time.Millisecond))))
			return nil
		})
	},
}

var ctlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the service to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(client *control.Client) error {
			message, err := client.Stop()
			if err != nil {
				return err
			}
			cmd.Println(successStyle.Render(message))
			return nil
		})
	},
}

var ctlSendCmd = &cobra.Command{
	Use:   "send <command> [key]",
	Short: "Send any control command",
	Long: `Send a command by name, optionally with a key, and print the raw reply.
Use "ctl send commands" to list what the service understands.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 2 {
			key = args[1]
		}
		return withControl(func(client *control.Client) error {
			reply, err := client.Call(args[0], key)
			if err != nil {
				return err
			}
			cmd.Println(reply)
			return nil
		})
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVarP(&ctlEndpoint, "endpoint", "e", "", "Control endpoint, e.g. tcp://127.0.0.1:5557")
	ctlCmd.PersistentFlags().StringVarP(&ctlName, "name", "n", "", "Service name to resolve from the configuration")
	ctlCmd.PersistentFlags().DurationVarP(&ctlTimeout, "timeout", "t", 2500*time.Millisecond, "Reply timeout")

	ctlCmd.AddCommand(ctlStatusCmd)
	ctlCmd.AddCommand(ctlPingCmd)
	ctlCmd.AddCommand(ctlStopCmd)
	ctlCmd.AddCommand(ctlSendCmd)
}
