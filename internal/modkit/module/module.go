// Package module defines the minimal contract for a modkit module
package module

// Module is the common surface for batch modules
// keep this tiny so modules stay decoupled; cross wiring goes through Ports
type Module interface {
	Ports() any
	Name() string
}
