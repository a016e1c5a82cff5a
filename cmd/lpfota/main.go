// Command lpfota is the operator tool for LPWAN module firmware updates. It
// uploads images over the local serial channel and inspects or boots flash
// dumps on the host.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/golang/glog"
)

func main() {
	// Create context that will cancel when a SIGINT signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	interruptSignalChannel := make(chan os.Signal, 1)
	signal.Notify(interruptSignalChannel, os.Interrupt)
	defer func() {
		signal.Stop(interruptSignalChannel)
		cancel()
	}()
	go func() {
		select {
		case <-interruptSignalChannel:
			glog.Info("received SIGINT, cancelling operations")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := Execute(ctx)
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
