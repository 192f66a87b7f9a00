// Command shuttled runs the export daemon as a standalone process.
package main

import (
	"context"
	"flag"
	"log"

	"shuttle/internal/config"
	"shuttle/internal/daemonrun"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, configPath, _, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		ConfigPath: configPath,
		LogLevel:   *logLevel,
	}); err != nil {
		log.Fatalf("shuttled: %v", err)
	}
}
