// Command crosspostd runs the crosspost daemon in the foreground using the
// default configuration location, or the file named by CROSSPOST_CONFIG.
package main

import (
	"context"
	"log"
	"os"

	"crosspost/internal/config"
	"crosspost/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("CROSSPOST_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel: os.Getenv("CROSSPOST_LOG_LEVEL"),
	}); err != nil {
		log.Fatalf("crosspostd: %v", err)
	}
}
