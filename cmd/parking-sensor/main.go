// Command parking-sensor watches parking space sensors on GPIO inputs and
// reports occupancy changes to the parking map service.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/parking-sensor/internal/config"
	"github.com/sweeney/parking-sensor/internal/gpio"
	"github.com/sweeney/parking-sensor/internal/logging"
	"github.com/sweeney/parking-sensor/internal/logic"
)

const defaultConfigPath = "/etc/parking-sensor/parking.yaml"

type options struct {
	configPath string
	httpAddr   string
	broker     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "parking-sensor",
		Short:        "Report parking space occupancy from GPIO sensors",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to the YAML configuration")
	root.PersistentFlags().StringVar(&opts.httpAddr, "http", "", "HTTP status address, overrides config (\"off\" disables)")
	root.PersistentFlags().StringVar(&opts.broker, "broker", "", "MQTT broker URL, overrides config (\"off\" disables)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides config")

	root.AddCommand(newRunCmd(opts), newValidateCmd(opts), newStateCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sensor daemon until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			watcher, err := openWatcher(cfg, logger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			pub, err := openPublisher(cfg, logger)
			if err != nil {
				return err
			}
			if pub != nil {
				defer pub.Close()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			return serve(cmd.Context(), cfg, deps{
				watcher:   watcher,
				publisher: pub,
				logger:    logger,
				signals:   sigCh,
			})
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: lot %q, %d inputs, endpoint %s%s\n",
				cfg.Lot, len(cfg.Inputs), cfg.Endpoint.BaseURL, cfg.Endpoint.Path)
			return nil
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current level of every input and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reader, err := gpio.NewRealWatcher(cfg.GPIO.Chip, cfg.PinConfigs(), false, logging.Discard())
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer reader.Close()
			return printState(cmd.OutOrStdout(), cfg.MonitoredInputs(), reader)
		},
	}
}

// loadConfig reads the config file, applies flag overrides and validates the
// result once.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.ReadFile(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("http") {
		cfg.HTTP = offOr(opts.httpAddr)
	}
	if flags.Changed("broker") {
		cfg.MQTT.Broker = offOr(opts.broker)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", opts.configPath, err)
	}
	return cfg, nil
}

func offOr(v string) string {
	if v == "off" {
		return ""
	}
	return v
}

func openWatcher(cfg *config.Config, logger *slog.Logger) (gpio.Watcher, error) {
	edges := cfg.GPIO.Mode == config.ModeEvents
	rw, err := gpio.NewRealWatcher(cfg.GPIO.Chip, cfg.PinConfigs(), edges, logger)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	if edges {
		return rw, nil
	}
	return gpio.NewPollingWatcher(rw, cfg.GPIO.PollInterval, logger), nil
}

func printState(w io.Writer, inputs []logic.MonitoredInput, reader gpio.Reader) error {
	for _, in := range inputs {
		high, err := reader.Read(in.Pin)
		if err != nil {
			return fmt.Errorf("read pin %d: %w", in.Pin, err)
		}
		state := logic.StateDeasserted
		if high {
			state = logic.StateAsserted
		}
		kind, err := logic.KindFor(state, in.Polarity)
		if err != nil {
			return fmt.Errorf("pin %d (%s): %w", in.Pin, in.Label, err)
		}
		fmt.Fprintf(w, "%s (pin %d): %s, %s\n", in.Label, in.Pin, levelString(high), kind)
	}
	return nil
}

func levelString(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
