package services

import "errors"

var (
	// ErrSimulationConfig means the simulation engine address is missing or unusable.
	// It is fatal for the resolve phase and is never retried.
	ErrSimulationConfig = errors.New("simulation engine is not configured")

	// ErrSimulationTransport wraps every failure of a single simulation call:
	// transport errors, non-2xx statuses and undecodable bodies.
	ErrSimulationTransport = errors.New("simulation call failed")

	// ErrClaimLost means another run took over rows this run had claimed.
	ErrClaimLost = errors.New("claim taken over by another run")
)
