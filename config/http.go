package config

// HTTPConfig defines the address of the charger control API.
type HTTPConfig struct {
	// Address is the listen address; empty disables the API.
	Address string `json:"address"`
	// Token, when set, is required as a bearer token on every request.
	Token string `json:"token"`
}

// Enabled reports whether the API should be served.
func (c HTTPConfig) Enabled() bool { return c.Address != "" }
