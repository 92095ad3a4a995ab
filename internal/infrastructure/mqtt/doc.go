// Package mqtt connects a Play Relay instance to an MQTT broker.
//
// The bridge is optional (mqtt.enabled). When on, it:
//   - mirrors every broadcast event to <prefix>/event/<event>
//   - executes commands published to <prefix>/command/<command>
//   - keeps a retained playback snapshot on <prefix>/state
//   - publishes a retained online/offline status, with a Last Will for crashes
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), client.QoS(), handler)
//
// # Security
//
// Anyone who can publish to the command topics can drive the player. Use
// broker ACLs and TLS (mqtt.broker.tls) outside a trusted LAN.
package mqtt
