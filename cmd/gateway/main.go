package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/asoos/integration-gateway/internal/gateway/app"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "OAuth2 authorization server and tool-call approval gateway",
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := app.LoadConfig()

				application, err := app.New(cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application: %w", err)
				}
				return application.Run()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(app.BuildVersion)
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
