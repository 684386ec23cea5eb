//go:build !debugger

package debugonly

// BreakHere is a no-op stub used as a breakpoint target in non-debugger
// builds.  The controller calls it inside the processor-creation critical
// section so abort/creation interleavings can be stepped through under a
// debugger build.
func BreakHere() {}

// Enabled reports whether the debugger build tag is active. Always false in production builds.
func Enabled() bool { return false }
