// Package resilience guards calls to a generation backend.
//
// Breaker is a three-state circuit breaker (closed, open, half-open) that
// only counts infrastructural failures; malformed output reported as a
// *ValidationError never moves it. Invoker layers prompt repair on top:
// each attempt goes through the breaker, its raw output is parsed and run
// through an ordered validator chain, and a validation failure produces a
// repaired prompt for the next attempt until MaxAttempts is reached.
package resilience
