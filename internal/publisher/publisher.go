// Package publisher announces finished runs to downstream consumers.
package publisher

// Attributed payloads supply message attributes alongside their JSON body.
type Attributed interface {
	Attributes() map[string]string
}

// AttributesOf returns a fresh copy of payload's attributes, or an empty map.
func AttributesOf(payload any) map[string]string {
	out := make(map[string]string)
	if a, ok := payload.(Attributed); ok {
		for k, v := range a.Attributes() {
			out[k] = v
		}
	}
	return out
}
