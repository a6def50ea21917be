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
	"fmt"
	"log"
	"os"

	orderworker "github.com/Munozca230/order-processing-system"
	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type OrderWorkerCLI struct {
	cmd *cobra.Command
}

// workerInstance holds the runtime objects shared by every sub-command.
type workerInstance struct {
	worker *orderworker.Worker
	queue  *orderworker.Queue
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration. Connections are opened lazily by the
// commands that need them.
func preRun(app *workerInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// setup connects Redis and PostgreSQL and builds the worker.
func (app *workerInstance) setup() {
	if app.worker != nil {
		return
	}
	worker, queue, err := orderworker.NewWorkerFromConfig(app.cnf)
	if err != nil {
		notification.NotifyError(err)
		log.Fatal(fmt.Errorf("error creating order worker: %w", err))
	}
	app.worker = worker
	app.queue = queue
}

func (app *workerInstance) close() {
	if app.queue == nil {
		return
	}
	if err := app.queue.Close(); err != nil {
		logrus.WithError(err).Warn("closing queue")
	}
}

func NewCLI() *OrderWorkerCLI {
	var configFile string
	app := &workerInstance{}

	rootCmd := &cobra.Command{
		Use:   "order-worker",
		Short: "Order enrichment and processing worker",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./"+config.DEFAULT_CONFIG_FILE, "Configuration file for the order worker")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &OrderWorkerCLI{cmd: rootCmd}
}

func (c OrderWorkerCLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
