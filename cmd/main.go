/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/rentcycle"
	"github.com/jerry-enebeli/rentcycle/config"
	"github.com/jerry-enebeli/rentcycle/internal/notification"
	"github.com/jerry-enebeli/rentcycle/internal/traces"
)

// Rentcycle represents the CLI application, encapsulating the root Cobra command.
type Rentcycle struct {
	cmd *cobra.Command
}

// rentcycleInstance holds the wired application and its configuration for
// the subcommands.
type rentcycleInstance struct {
	app      *rentcycle.Rentcycle
	cnf      *config.Configuration
	shutdown func(context.Context) error
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the application before any
// command runs. Commands that only need configuration skip the wiring.
func preRun(app *rentcycleInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations["config-only"] == "true" {
			return nil
		}

		if cnf.Telemetry.Enabled {
			shutdown, err := traces.SetupOTelSDK(cmd.Context(), cnf.ProjectName, cnf.Telemetry.Endpoint)
			if err != nil {
				return fmt.Errorf("error setting up OTel SDK: %w", err)
			}
			app.shutdown = shutdown
		}

		newApp, err := rentcycle.NewRentcycle(cmd.Context(), cnf)
		if err != nil {
			notification.NotifyError(cmd.Name(), err)
			return err
		}
		app.app = newApp
		return nil
	}
}

func postRun(app *rentcycleInstance) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if app.app != nil {
			if err := app.app.Close(); err != nil {
				logrus.WithError(err).Warn("error closing connections")
			}
		}
		if app.shutdown != nil {
			if err := app.shutdown(context.Background()); err != nil {
				logrus.WithError(err).Warn("error during telemetry shutdown")
			}
		}
	}
}

// NewCLI creates the command-line interface with one subcommand per job
// plus the charges, workers, migrate and config commands.
func NewCLI() *Rentcycle {
	var configFile string
	r := &rentcycleInstance{}

	rootCmd := &cobra.Command{
		Use:           "rentcycle",
		Short:         "Post-shipment reminders and late charges for rentals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./rentcycle.json", "Configuration file for rentcycle")
	rootCmd.PersistentPreRunE = preRun(r, &configFile)
	rootCmd.PersistentPostRun = postRun(r)

	for _, cmd := range jobCommands(r) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(chargesCommands(r))
	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))
	rootCmd.AddCommand(configCommands(r))

	return &Rentcycle{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Rentcycle) executeCLI() {
	if err := w.cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
