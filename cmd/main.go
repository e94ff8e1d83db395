package main

import (
	"fmt"

	app "app-swap-go"
	"app-swap-go/internal/pkg/startup"
)

const AppName = "app-swap-go"

func main() {
	fmt.Printf("Starting application: %s version: %s\n", AppName, app.Version)
	startup.BootStrap(AppName, app.Version)
}
