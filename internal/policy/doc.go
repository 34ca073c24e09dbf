// Package policy implements the routing policy engine.
//
// A decision is a synchronous function of the request, the process-wide
// degraded flag and the policy table. Gates are evaluated in a fixed order:
// degraded mode, breath coaching, category threshold, provenance, truth seal,
// iterate budget. The first gate that decides ends evaluation.
//
// Every decision is handed to a Recorder, which appends it to the truth lane
// when it is a ROUTED truth-sealed verify and to the journal lane otherwise.
package policy
