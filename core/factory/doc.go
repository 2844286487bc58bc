// Package factory provides a small generic registry used to build pluggable
// modules (metrics sinks, journal backends) from configuration. A module is
// named by a type string and carries a map of raw settings that its factory
// decodes into a typed struct using json tags.
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	_ = reg.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInflux(c.URL), nil
//	})
//	sink, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": "http://influx:8086"}})
package factory
