// Package mqtt connects the gateway to its device bus.
//
// Devices are reached through a Zigbee-to-MQTT bridge. The gateway
// subscribes to "<base>/#", receives the bridge's retained device list on
// "<base>/bridge/devices", and sends commands to "<base>/<friendly name>/set".
// Topics classifies inbound topics so the dispatcher can tell device reports
// from directory snapshots and echoes of its own commands.
//
// The client publishes a retained status on homegateway/status and registers
// the same topic as its last will, so listeners can see when the gateway
// drops off the bus.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllDevices(), 1, func(topic string, payload []byte) error {
//	    return dispatcher.Ingest(topic, payload)
//	})
package mqtt
