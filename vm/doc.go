// Package vm implements array-like values for the VM and the machinery that
// lets them live in more than one physical layout.
//
// This package contains:
//   - Typed value cells and data types
//   - The packed array header and its bit layout
//   - Vanilla (canonical) vec, dict and keyset storage with refcounted copy-on-write
//   - The layout registry and the per-layout operation tables
//   - The BespokeArray dispatch entry points that route generic operations
//   - Classes, objects, source keys and the array bytecode table
package vm
