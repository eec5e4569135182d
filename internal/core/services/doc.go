// Package services implements the driving port interfaces.
// Services contain the resilience logic and orchestrate calls to driven
// ports (adapters). They never import an adapter package.
//
// All time-dependent behaviour goes through driven.Clock so tests can drive
// timers deterministically.
package services
