package domain

import "slices"

// ServiceType is the transport chosen for a resolved connection.
type ServiceType string

const (
	ServiceQueue        ServiceType = "queue"
	ServicePointToPoint ServiceType = "point-to-point"
	ServicePubSub       ServiceType = "pub/sub"
)

// AppConnection is the outcome of classifying one external endpoint name
// across applications. Each AppConnection has exactly one binding producer;
// publish/subscribe names with several producing applications yield one
// AppConnection per producer.
type AppConnection struct {
	// Key is the external name for point-to-point and
	// "<external name>.<producer app>" for publish/subscribe.
	Key  string      `json:"key"`
	Name string      `json:"name"`
	Type ServiceType `json:"service_type"`

	Producer  EndpointRef   `json:"producer"`
	Receivers []EndpointRef `json:"receivers"`
	MsgType   string        `json:"msg_type,omitempty"`
	MsgModule string        `json:"msg_module_name,omitempty"`
	Topics    []string      `json:"topics,omitempty"`
	Feedback  bool          `json:"feedback,omitempty"`

	// UID and Address point at the NetworkConnection allocated for Producer.
	UID     string `json:"uid"`
	Address string `json:"address"`
}

// Clone returns a deep copy.
func (c AppConnection) Clone() AppConnection {
	out := c
	out.Receivers = slices.Clone(c.Receivers)
	out.Topics = slices.Clone(c.Topics)
	return out
}

// BindApps returns the applications that listen on the address.
func (c AppConnection) BindApps() []string {
	return []string{c.Producer.App}
}

// ConnectApps returns the consuming applications, sorted and deduplicated.
func (c AppConnection) ConnectApps() []string {
	apps := make([]string, 0, len(c.Receivers))
	for _, r := range c.Receivers {
		apps = append(apps, r.App)
	}
	slices.Sort(apps)
	return slices.Compact(apps)
}

// Touches reports whether app produces or consumes on this connection.
func (c AppConnection) Touches(app string) bool {
	return c.Producer.App == app || slices.Contains(c.ConnectApps(), app)
}

// NetworkConnection is a transport descriptor handed to the runtime.
type NetworkConnection struct {
	UID         string      `json:"uid"`
	ServiceType ServiceType `json:"service_type"`
	URI         string      `json:"uri"`
	Topics      []string    `json:"topics,omitempty"`
}
