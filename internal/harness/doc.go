// Package harness runs cascade scenarios end to end: a YAML file seeds a
// temporary store, fires a sequence of triggers through the direct path,
// pumps the resulting changelog through the broadcaster into capture
// channels, and checks the declared expectations.
//
// Traces are deterministic: the engine runs with a fixed flow token
// generator, a clock starting at zero, and a stopped wall clock, so the
// same scenario always produces byte-identical canonical output. That is
// what makes golden comparison possible.
package harness
