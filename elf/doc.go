// Package elf imports precompiled native extension modules shipped as
// minimal 32-bit little-endian shared objects. A module declares its
// surface through one reserved global object symbol, the export
// descriptor table: an array of (kind, address) records that dynamic
// relocations fill in at load time. The loader validates the file
// structure, loads text and the read-only region that follows it,
// resolves undefined symbols against the host's fixed whitelist, and
// wraps each descriptor entry as a constant or a callable bound into
// the module's namespace.
//
// This is not a general dynamic linker: no versioning, no lazy binding,
// no unloading. Exactly the three Xtensa dynamic relocation types the
// toolchain emits are supported, and any other structure is rejected
// outright. A failed import binds nothing and frees everything.
package elf
