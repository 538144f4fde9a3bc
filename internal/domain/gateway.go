package domain

import "strings"

// Gateway identifies a payment gateway. The set is open: every gateway named in
// the gateway table becomes a valid value at startup.
type Gateway string

// Normalize lowercases and trims a gateway name taken from a route or config.
func (g Gateway) Normalize() Gateway {
	return Gateway(strings.ToLower(strings.TrimSpace(string(g))))
}

func (g Gateway) String() string {
	return string(g)
}
