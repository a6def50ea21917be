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

	"github.com/Munozca230/order-processing-system/api"
	"github.com/Munozca230/order-processing-system/config"
	trace "github.com/Munozca230/order-processing-system/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// serveTLS serves the router over HTTPS with certificates managed by CertMagic.
// Without a domain it falls back to localhost.
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("https server: %w", err)
	}
	return nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// initializeObservability installs the OTLP tracer provider when telemetry is
// enabled. The returned shutdown is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %w", err)
	}
	return shutdown, nil
}

func serverCommands(app *workerInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the order status API",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			app.setup()
			defer app.close()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			router := api.NewAPI(app.worker, app.queue, app.worker.NewSweeper()).Router()
			if err := startServer(router, app.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
