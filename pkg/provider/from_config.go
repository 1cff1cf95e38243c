package provider

import (
	"github.com/promptforge/gateway/pkg/config"
)

// FromConfig builds a registry from configured backends. Unrecognized types
// default to the OpenAI shape, which most compatible backends speak.
func FromConfig(cfgs []config.ProviderConfig) *Registry {
	r := NewRegistry()
	for _, pc := range cfgs {
		desc := pc.Descriptor()
		switch pc.Type {
		case "anthropic":
			r.Register(NewAnthropic(desc, pc.URL, pc.APIKey))
		default:
			r.Register(NewOpenAI(desc, pc.URL, pc.APIKey))
		}
	}
	return r
}
