// Command bridge runs the device-shadow bridge: it discovers devices
// on the source cloud, mirrors their lifecycle and telemetry to one
// or more MQTT peers, and keeps the two in sync for the life of the
// process.
//
// CLI and packaging are deliberately out of scope of this bridge's own
// responsibilities (they belong to whatever deploys it), so unlike
// kubeedge's edgecore this command takes a minimal flag surface
// instead of a cobra command tree.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/cmd/bridge/app"
	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
)

func main() {
	klog.InitFlags(nil)
	configFile := flag.String("config", "/etc/shadow-bridge/config.yaml", "path to the bridge configuration file")
	flag.Parse()
	defer klog.Flush()

	cfg, err := config.Load(*configFile)
	if err != nil {
		klog.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := app.New(cfg)
	if err := srv.Run(ctx); err != nil {
		klog.Fatalf("bridge exited: %v", err)
	}
}
