// Package app wires the bridge's subsystems together into a running
// process, in the composition-root style of kubeedge's
// edge/cmd/edgecore/app/server.go (registerModules + core.Run).
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/adapter"
	"github.com/kubeedge/shadow-bridge/pkg/adapter/mqttadapter"
	"github.com/kubeedge/shadow-bridge/pkg/apis/config"
	"github.com/kubeedge/shadow-bridge/pkg/core"
	"github.com/kubeedge/shadow-bridge/pkg/credential"
	"github.com/kubeedge/shadow-bridge/pkg/endpointtype"
	"github.com/kubeedge/shadow-bridge/pkg/events"
	"github.com/kubeedge/shadow-bridge/pkg/fanout"
	"github.com/kubeedge/shadow-bridge/pkg/httpclient"
	"github.com/kubeedge/shadow-bridge/pkg/notification"
	"github.com/kubeedge/shadow-bridge/pkg/orchestrator"
	"github.com/kubeedge/shadow-bridge/pkg/sourcecloud"
)

// Server owns the bridge's full set of live subsystems: one
// credential service and one MQTT adapter per peer, the shared
// source-cloud client and endpoint-type registry, the orchestrator,
// the notification channel, and (in webhook mode) the HTTPS callback
// listener. Every long-running subsystem (credential refresh, the
// webhook listener) is registered as a pkg/core Module so startup and
// shutdown go through the same registry+lifecycle the orchestrator's
// C9 fan-out was itself adapted from.
type Server struct {
	cfg *config.Bridge

	http        httpclient.Client
	source      *sourcecloud.Client
	types       *endpointtype.Registry
	orch        *orchestrator.Orchestrator
	channel     *notification.Channel
	callbackSrv *http.Server
}

// credentialModule adapts a *credential.Service to core.Module so its
// background SAS-token refresh loop is started and stopped through
// the shared module registry instead of an ad hoc slice of services.
type credentialModule struct {
	peerName string
	svc      *credential.Service
}

func (m *credentialModule) Name() string  { return "credential-" + m.peerName }
func (m *credentialModule) Group() string { return "credential" }
func (m *credentialModule) Enable() bool  { return true }
func (m *credentialModule) Start() {
	if err := m.svc.Start(); err != nil {
		klog.Errorf("credential module %s failed to start: %v", m.peerName, err)
	}
}
func (m *credentialModule) Cleanup() { m.svc.Stop() }

// webhookModule adapts the webhook callback's http.Server to
// core.Module, so it starts and stops alongside every peer's
// credential module under one Run/Shutdown pair.
type webhookModule struct {
	srv *http.Server
}

func (m *webhookModule) Name() string  { return "webhook-callback" }
func (m *webhookModule) Group() string { return "notification" }
func (m *webhookModule) Enable() bool  { return true }
func (m *webhookModule) Start() {
	if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Errorf("webhook callback server stopped: %v", err)
	}
}
func (m *webhookModule) Cleanup() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(shutdownCtx)
}

// New builds a Server from a loaded configuration document. It does
// not start anything; call Run.
func New(cfg *config.Bridge) *Server {
	s := &Server{cfg: cfg}
	s.http = httpclient.New(false)
	s.source = sourcecloud.New(s.http, baseURL(cfg.SourceCloud), cfg.SourceCloud.APIKey, cfg.SourceCloud.PaginationLimit, cfg.SourceCloud.EnableDeviceRequestAPI)
	s.types = endpointtype.New()
	s.orch = orchestrator.New(cfg.SourceCloud, s.source, s.types, s.Reset)
	return s
}

func baseURL(sc config.SourceCloud) string {
	return fmt.Sprintf("https://%s:%d", sc.APIEndpointAddress, sc.APIPort)
}

func callbackURL(sc config.SourceCloud) string {
	return fmt.Sprintf("https://%s:%d%s%s", sc.GatewayAddress, sc.GatewayPort, sc.GatewayContextPath, sc.GatewayEventsPath)
}

func webSocketURL(sc config.SourceCloud) string {
	return fmt.Sprintf("wss://%s:%d/notification/websocket", sc.APIEndpointAddress, sc.APIPort)
}

// Run builds every peer adapter, registers them with the
// orchestrator, starts the notification channel, bulk-subscribes, and
// fans the initial device discovery out across the shadow fan-out
// scheduler. It blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for _, peer := range s.cfg.Peers {
		cred := credential.NewService(peer.ConnectString, peer.SASToken, credential.DefaultValidity, credential.DefaultRefreshInterval)
		core.Register(&credentialModule{peerName: peer.Name, svc: cred})

		a := mqttadapter.New(peer.Name, peer, s.cfg.SourceCloud, cred, s.source)
		s.orch.Register(a)
	}

	if err := s.startNotificationChannel(); err != nil {
		return fmt.Errorf("start notification channel: %w", err)
	}

	core.Run()

	if err := s.source.BulkSubscribe(); err != nil {
		klog.Warningf("bulk subscribe failed: %v", err)
	}

	s.runInitialDiscovery()

	<-ctx.Done()
	s.shutdown()
	return nil
}

func (s *Server) startNotificationChannel() error {
	sink := notification.Sink(s.dispatch)
	channel, err := notification.Start(s.cfg.SourceCloud, s.http, callbackURL(s.cfg.SourceCloud), s.cfg.SourceCloud.APIKey, webSocketURL(s.cfg.SourceCloud), sink, s.orch.Reset)
	if err != nil {
		return err
	}
	s.channel = channel

	if wh := channel.Webhook(); wh != nil {
		router := mux.NewRouter()
		wh.RegisterRoute(router, s.cfg.SourceCloud.GatewayEventsPath)
		s.callbackSrv = &http.Server{Addr: fmt.Sprintf(":%d", s.cfg.SourceCloud.GatewayPort), Handler: router}
		core.Register(&webhookModule{srv: s.callbackSrv})
	}
	return nil
}

// dispatch routes a decoded notification event to the orchestrator
// fan-out (spec.md §4.9). Unconditional device deletion is not part
// of the decoded notification sum type and does not pass through this
// Sink; the orchestrator exposes it as ProcessDeviceDeletions, which
// the bridge does not call.
func (s *Server) dispatch(evt events.Event) {
	s.orch.Dispatch(evt)
}

// runInitialDiscovery drains the currently-registered device fleet
// through the shadow fan-out scheduler (spec.md §4.7).
func (s *Server) runInitialDiscovery() {
	devices, err := s.source.DiscoverRegisteredDevices()
	if err != nil {
		klog.Errorf("initial device discovery failed: %v", err)
		return
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}

	scheduler := fanout.New(s.cfg.SourceCloud.MaxShadowCreateThreads, s.setupDevice)
	scheduler.Run(ids)
}

// setupDevice performs one device's resource discovery and feeds it
// into the registration event path every registered adapter already
// understands, so attribute retrieval and shadow creation reuse
// exactly the same code as a live registration notification.
func (s *Server) setupDevice(deviceID string) {
	resources, err := s.source.ResourceList(deviceID)
	if err != nil {
		klog.Warningf("resource discovery for %s failed: %v", deviceID, err)
		return
	}
	descs := make([]events.ResourceDesc, 0, len(resources))
	for _, r := range resources {
		descs = append(descs, events.ResourceDesc{Path: r.Path, RT: r.RT, Obs: r.Obs, Type: r.Type})
	}
	s.orch.Dispatch(events.Event{
		Kind: events.KindRegistration,
		Devices: []events.RegisteredDevice{
			{DeviceID: deviceID, EndpointType: s.cfg.SourceCloud.DefaultEndpointType, Resources: descs},
		},
	})
}

// Reset is the orchestrator's onReset callback: it tears every
// subsystem down and rebuilds the bridge from the same configuration
// (spec.md §4.3 "on terminal failure the orchestrator is asked to
// reset the bridge", §4.9 "reset()").
func (s *Server) Reset() {
	klog.Warningf("bridge reset requested, rebuilding")
	s.shutdown()

	s.source = sourcecloud.New(s.http, baseURL(s.cfg.SourceCloud), s.cfg.SourceCloud.APIKey, s.cfg.SourceCloud.PaginationLimit, s.cfg.SourceCloud.EnableDeviceRequestAPI)
	s.types = endpointtype.New()
	s.orch = orchestrator.New(s.cfg.SourceCloud, s.source, s.types, s.Reset)

	go func() {
		if err := s.Run(context.Background()); err != nil {
			klog.Errorf("bridge rebuild failed: %v", err)
		}
	}()
}

func (s *Server) shutdown() {
	if s.channel != nil {
		s.channel.Stop()
	}
	core.Shutdown()
}

var _ adapter.Adapter = (*mqttadapter.Adapter)(nil)
