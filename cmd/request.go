package cmd

import (
	"fmt"
	"time"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/hermes"
	"github.com/spf13/cobra"
)

var (
	requestEndpoint string
	requestName     string
	requestTimeout  time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request <key> [key...]",
	Short: "Send requests to a service",
	Long: `Send one request per key to a service's client endpoint and print each
reply. A key that gets no reply within the timeout is reported and the next key
is sent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := resolveEndpoint(requestEndpoint, requestName, (*config.ServiceConfig).ClientURI)
		if err != nil {
			return err
		}

		client, err := hermes.NewClient(endpoint, requestTimeout)
		if err != nil {
			return err
		}
		defer client.Close()

		failed := 0
		for _, key := range args {
			reply, ok, err := client.Request(key)
			switch {
			case err != nil:
				return fmt.Errorf("request %s failed: %w", key, err)
			case !ok:
				failed++
				cmd.Println(errorStyle.Render(fmt.Sprintf("%s: no reply within %s", key, requestTimeout)))
			case reply.IsError:
				failed++
				cmd.Println(errorStyle.Render(fmt.Sprintf("%s: %s", key, reply.ErrorMessage)))
			default:
				cmd.Printf("%s %s\n", keyStyle.Render(key+":"), reply.Payload)
			}
		}

		stats := client.GetStats()
		cmd.Println(renderTable("Requests", map[string]string{
			"sent":      fmt.Sprintf("%d", stats.RequestsSent),
			"received":  fmt.Sprintf("%d", stats.ResponsesReceived),
			"timed out": fmt.Sprintf("%d", stats.RequestsTimeout),
			"stale":     fmt.Sprintf("%d", stats.StaleDiscarded),
			"failed":    fmt.Sprintf("%d", failed),
		}))
		return nil
	},
}

func init() {
	requestCmd.Flags().StringVarP(&requestEndpoint, "endpoint", "e", "", "Client endpoint, e.g. tcp://127.0.0.1:5555")
	requestCmd.Flags().StringVarP(&requestName, "name", "n", "", "Service name to resolve from the configuration")
	requestCmd.Flags().DurationVarP(&requestTimeout, "timeout", "t", 2500*time.Millisecond, "Reply timeout per request")
}
