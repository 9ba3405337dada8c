// Package mqtt provides MQTT client connectivity for the Gray Logic gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained gateway status with Last Will and Testament (LWT)
//   - Publishing machine state, counter readings, cycles and health
//   - The inbound machine command subscription
//
// # Topic Hierarchy
//
//	graylogic/gateway/{gateway}/status
//	graylogic/gateway/{gateway}/health
//	graylogic/gateway/{gateway}/machine/{machine}/state
//	graylogic/gateway/{gateway}/machine/{machine}/counter
//	graylogic/gateway/{gateway}/machine/{machine}/cycle
//	graylogic/gateway/{gateway}/command/{machine}
//
// # Security Considerations
//
//   - TLS should be enabled outside the plant network (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Only the restart command is accepted; everything else is rejected
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Gateway.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeCommands(func(cmd mqtt.Command) error {
//	    return registry.Restart(ctx, cmd.MachineID)
//	})
package mqtt
