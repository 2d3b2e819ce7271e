// Package engine evaluates compliance rule packs against a project context and
// produces a PolicyRun: content-addressed decisions, release gates, required
// evidence and cost modifiers.
//
// A run is a pure function of its request and the read-only pack and profile
// data it loads. Running the engine twice with the same inputs yields the same
// decision ids, gates and content. Logging and metrics observe a run but never
// change its result.
//
// # Evaluation Flow
//
//	Request{industry, hardware class, inputs, profiles}
//	       ↓
//	Resolve profile stack (falls back to industry defaults on error)
//	       ↓
//	Active packs = profile packs ∪ industry default packs ∪ additional packs
//	       ↓
//	For each rule of each pack (sorted by pack id):
//	  applies to industry/hardware class? → when condition true?
//	    Yes → Decision{DEC-XXXXXXXX}, tagged with its profile source
//	       ↓
//	Gates, required evidence, cost modifiers
//
// # Decision Identity
//
// A decision id is "DEC-" followed by the first eight upper-case hex digits of
// the SHA-256 of "rule_id|object_type|object_id|industry_profile|hardware_class".
// External audit manifests treat it as a stable identity.
//
// # Basic Usage
//
//	eng, err := engine.New(engine.DefaultConfig(), packStore, profileRepo)
//	if err != nil {
//	    return err
//	}
//	run, err := eng.Run(ctx, &engine.Request{
//	    IndustryProfile: "space",
//	    HardwareClass:   "flight",
//	    Inputs:          map[string]interface{}{"tests_requested": []interface{}{"TVAC"}},
//	    ActiveProfiles:  []string{"BASE_IPC", "DOMAIN_SPACE"},
//	})
//	if run.ReleaseGate().Blocked() {
//	    // release requires the listed decisions to be satisfied
//	}
//
// # Failure Handling
//
// A pack that cannot be loaded is skipped and recorded as a warning on the
// run. A profile stack that does not resolve, or that contains a profile that
// may not be used, is ignored in favor of the industry defaults, also with a
// warning. A malformed rule condition evaluates to false. Only a missing
// industry profile fails the run.
package engine
