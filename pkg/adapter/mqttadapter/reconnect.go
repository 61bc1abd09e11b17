package mqttadapter

import (
	"time"

	"k8s.io/klog/v2"

	"github.com/kubeedge/shadow-bridge/pkg/adapter"
)

// Reconnect tears a device's session down and rebuilds it from
// scratch: stop listener, disconnect (hard), delete the peer shadow,
// pause, re-create it together with a fresh MQTT session and its
// subscriptions restored, then pause again. Re-creating the shadow
// and building the new session are one step (RegisterNewDevice), so
// no pause separates them.
func (a *Adapter) Reconnect(device *adapter.Device) bool {
	sleep := time.Duration(a.cfg.ReconnectSleepMs) * time.Millisecond
	if sleep <= 0 {
		sleep = time.Second
	}

	a.DeleteDevice(device.DeviceID)
	time.Sleep(sleep)

	ok := a.RegisterNewDevice(device)
	time.Sleep(sleep)

	if !ok {
		klog.Warningf("mqttadapter %s: reconnect failed for %s", a.name, device.DeviceID)
	}
	return ok
}
