// Package mmap provides read-only memory-mapped file access.
//
// It backs the local blob store and the binary model loaders, both of which
// read large immutable files (index pages, quantizer tables) once at startup.
//
//	m, err := mmap.Open("coarse.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
// Callers must not touch the slice returned by Bytes after Close.
package mmap
