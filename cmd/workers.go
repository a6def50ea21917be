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
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	orderworker "github.com/Munozca230/order-processing-system"
	"github.com/Munozca230/order-processing-system/config"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights the webhook queue above the order partitions.
func initializeQueues(conf *config.Configuration) map[string]int {
	queues := map[string]int{conf.Queue.WebhookQueue: 3}
	for _, name := range orderworker.OrderQueueNames(conf.Queue) {
		queues[name] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := orderworker.RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
		Logger:      logrus.StandardLogger(),
	}), nil
}

func initializeTaskHandlers(app *workerInstance, mux *asynq.ServeMux) {
	for _, name := range orderworker.OrderQueueNames(app.cnf.Queue) {
		mux.HandleFunc(name, app.worker.HandleOrderTask)
	}
	mux.HandleFunc(app.cnf.Queue.WebhookQueue, orderworker.ProcessWebhook)
}

func startMonitoring(conf *config.Configuration) error {
	redisOption, err := orderworker.RedisClientOpt(conf)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// workerCommands starts the queue consumers and the periodic ledger sweep.
func workerCommands(app *workerInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start order workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app.setup()
			defer app.close()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(app.cnf, initializeQueues(app.cnf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			sweeper := app.worker.NewSweeper()
			if err := sweeper.Start(ctx); err != nil {
				log.Fatalf("could not start ledger sweeper: %v", err)
			}
			defer sweeper.Stop()

			if err := startMonitoring(app.cnf); err != nil {
				log.Fatal(err)
			}

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
