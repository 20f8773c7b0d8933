package main

import (
	"fmt"
	"os"

	"github.com/semops/semops-backend/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	application.Start()

	fmt.Printf("Server listening on :%s\n", application.Cfg.Port)
	if err := application.Run(); err != nil {
		application.Log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
