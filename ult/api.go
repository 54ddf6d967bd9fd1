// Package ult implements a cooperative user-level thread scheduler:
// spawn, block, sleep, resume and terminate lightweight threads that
// share a single logical CPU, ordered on a round-robin ready queue.
//
// A goroutine is spawned per user thread, but only one is ever meant
// to be actively running library-aware code at a time; the others are
// parked on a per-thread channel until the scheduler hands them the
// CPU. See the Runtime doc comment for the preemption caveat this
// implies relative to the original signal-driven design.
package ult

// Init creates a new scheduler with the given quantum length, in
// microseconds, and dispatches the calling goroutine as thread 0.
func Init(quantumUsecs int) (*Runtime, error) {
	return NewRuntime(quantumUsecs)
}

// InitFromConfig creates a new scheduler using viper-sourced defaults
// (./ultrc or $HOME/.ult, ULT_-prefixed env overrides), the same
// bootstrapping corral's driver performs for its own config, scoped to
// this package's single quantumUsecs tunable.
func InitFromConfig() (*Runtime, error) {
	v := loadConfig()
	return NewRuntime(v.GetInt("quantumUsecs"))
}
