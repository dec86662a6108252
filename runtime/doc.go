// Package runtime holds the interpreter-facing types the loaders produce
// and the host capabilities they consume.
//
// # Main Types
//
//   - RawCode: a reconstructed code object (bytecode or native), handed
//     to the interpreter after a successful load
//   - InternTable: the global interned-string table capability; loaders
//     never touch ambient global state
//   - FunTable: the fixed host function address table, indexed by small
//     integer (native containers) and by name (object-file modules)
//   - Namespace: a destination module object for export bindings
//   - Fn / Const: callable and constant values wrapped around relocated
//     addresses
//
// # Thread Safety
//
// Table is safe for concurrent interning. Everything else is built by a
// single loading thread and owned by the interpreter afterwards; loads
// must be serialized by the caller.
package runtime
