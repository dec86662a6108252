// Package micropython implements a persisted-code loader: it
// deserializes previously compiled program units (bytecode or
// precompiled native machine code) from a compact binary container,
// reconstructs their in-memory representation, and makes native code
// directly callable through architecture-specific relocation. It is a
// minimal relocating dynamic loader embedded in a language runtime with
// no operating-system loader to rely on.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	micropython/         Root package with the container dispatch API
//	├── mpy/             Bytecode container codec (load and save)
//	├── native/          Native container codec and relocation engine
//	├── elf/             Object-file native extension module loader
//	├── runtime/         Code objects, values, interning, host tables
//	├── errors/          Structured error types for load failures
//	└── internal/binary  Varint and primitive codec over byte sources
//
// # Quick Start
//
// Load a container from a file:
//
//	host := micropython.Host{
//	    Features:     mpy.FeatureUnicode,
//	    SmallIntBits: mpy.SmallIntBits(math.MaxInt64 >> 1),
//	    Profile:      native.X8664(),
//	    Funs:         funs,
//	    Interner:     runtime.NewTable(),
//	}
//	res, err := micropython.LoadFile("module.mpy", host)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer res.Close()
//
// The resulting raw code object is handed to the interpreter; the
// execution engine itself is an external collaborator and is not part
// of this library.
//
// # Containers
//
// A container starts with a 4-byte header (magic, version, feature
// flags, small-int width or instruction-set id) that must exactly match
// the loading host; there is no cross-version compatibility shimming.
// The body is either one bytecode object graph (nested code objects
// included, see mpy) or one native blob with its relocation list (see
// native). Object-file extension modules use a standard shared-object
// layout instead and are handled by elf.
package micropython
