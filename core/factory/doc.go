// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Transports, position sources and metrics sinks are all built this way:
//
//	reg := factory.NewRegistry[connection.Transport]()
//	reg.Register("websocket", func(conf map[string]any) (connection.Transport, error) {
//	    var c ws.Config
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return ws.New(c)
//	})
//	t, err := reg.Create(factory.ModuleConfig{Type: "websocket", Conf: map[string]any{"url": "wss://..."}})
package factory
