// Package mqtt provides MQTT client connectivity for device event brokers.
//
// Every discovered device that advertises an events broker is reached
// through its own Client. This package manages:
//   - Connection to a broker with a context-bounded connect timeout
//   - Topic subscriptions with wildcard support and filter validation
//   - Connection-lost notification for callers that own reconnection
//
// # Reconnection
//
// A Client does not reconnect on its own. The events package watches
// SetOnDisconnect and redials with its own delay so that the connection
// state of each device stays observable.
//
// # Persistent sessions
//
// With cfg.PersistentSession the broker keeps the subscription and any
// QoS 1/2 messages for the client ID while it is away. Messages it delivers
// before Subscribe is called are held and routed once a matching handler is
// registered. Messages are acknowledged only after the handler returns.
//
// # Security Considerations
//
//   - TLS (ssl://) is used when cfg.Broker.TLS is set, with TLS 1.2 minimum
//   - Credentials are sent only when a username is configured
//
// # Usage
//
//	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
//	defer cancel()
//	client, err := mqtt.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnDisconnect(func(err error) { lost <- err })
//	err = client.Subscribe("tosca/A4CF12F0C1D8/events", 1, handler)
package mqtt
