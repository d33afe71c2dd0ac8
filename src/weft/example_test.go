package weft

import (
	"os"

	"github.com/weftlabs/weft/src/config"
)

// This example assembles an endpoint from the default configuration,
// starts it, and points it at a first peer. Subscriptions and stores
// are then attached through the Endpoint field.
func Example() {
	// Start from default configuration.
	weftConfig := config.NewDefaultConfig()

	// Instantiate the engine.
	engine := NewWeft(weftConfig)

	// Read in the configuration and initialise the endpoint accordingly.
	if err := engine.Init(); err != nil {
		weftConfig.Logger().Error("Cannot initialize weft:", err)
		os.Exit(1)
	}

	// Run the endpoint asynchronously.
	go engine.Run()

	// Tear the endpoint down upon stopping.
	defer engine.Shutdown()

	// Connect to a first peer.
	engine.Endpoint.PeerWith("127.0.0.1:9998")
}
