package vm

import (
	"unsafe"

	"github.com/oichkatz/sv39kernel/internal/pgalloc"
)

// ptrOf reinterprets a raw page of bytes as a page-table's 512 PTEs.
// This is the Go-idiomatic analogue of the teacher's pg2pmap: a page
// allocated as bytes is reused, in place, as a typed page-table page
// (mem.Pmap_t in the teacher; [EntriesPer]PTE here).
func ptrOf(b *[pgalloc.PageSize]byte) unsafe.Pointer {
	return unsafe.Pointer(b)
}
