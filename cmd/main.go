package main

import (
	"context"
	"log"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	_ "github.com/klipach/contractmatch"
	"github.com/klipach/contractmatch/config"
)

func main() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatalf("config.Load: %v\n", err)
	}
	log.Printf("Started on port %s", cfg.Port)

	// FUNCTION_TARGET selects the registered function; Api is the only one.
	if os.Getenv("FUNCTION_TARGET") == "" {
		_ = os.Setenv("FUNCTION_TARGET", "Api")
	}
	if err := funcframework.Start(cfg.Port); err != nil {
		log.Fatalf("funcframework.Start: %v\n", err)
	}

	log.Println("Done")
}
