package territory

import "errors"

// Sentinel errors shared across the ledger, route engine, and API layers.
// Call sites wrap these with context via fmt.Errorf("...: %w", err).
var (
	// ErrTerritoryNotFound reports a territory id that does not exist.
	ErrTerritoryNotFound = errors.New("territory not found")

	// ErrFactionNotFound reports a faction id outside the closed enum.
	ErrFactionNotFound = errors.New("faction not found")

	// ErrValidation reports a malformed request (bad delta, empty cause).
	ErrValidation = errors.New("validation failed")

	// ErrRouteTimeout reports a route computation that exceeded its budget
	// with no cached result to fall back on.
	ErrRouteTimeout = errors.New("route computation timed out")

	// ErrNoRoute reports that no traversable path connects two territories.
	ErrNoRoute = errors.New("no route between territories")
)
