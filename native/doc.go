// Package native loads precompiled machine-code containers: it places
// the code and data segments into memory obtained from an Arena, applies
// the relocation list and returns a callable bound to the committed
// entry address.
//
// Relocation semantics differ per instruction set and are captured in a
// Profile chosen when the loader is built: X8664 synthesizes PLT stubs
// for out-of-range calls, ARM routes every branch through a veneer, and
// Xtensa patches 32-bit words with no trampolines but commits staged
// code to instruction memory and verifies the committed address.
//
// Loading is synchronous and all-or-nothing: any failure releases every
// placement made for that load before the error is reported.
package native
