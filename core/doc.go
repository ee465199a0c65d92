// Package core contains the canonical dispatch domain contracts, entities,
// and orchestration logic. Lower-level adapters must depend on this package;
// core must not depend on transport-specific or store-specific adapters.
package core
