package vm

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

// translate walks to the leaf PTE backing va and returns the physical
// address of the containing page plus the offset within it. It fails
// with EFAULT if the page isn't mapped, or if user is true and the PTE
// lacks PteU (spec §4.3 copy_* "respect user permissions").
func (as *AddrSpace_t) translate(h *cpu.Hart_t, va uintptr, requireUser bool) (uintptr, defs.Err_t) {
	page := va &^ (PageSize - 1)
	pte, ok := as.Walk(h, page, false)
	if !ok || pte == nil || *pte&PteV == 0 {
		return 0, -defs.EFAULT
	}
	if requireUser && *pte&PteU == 0 {
		return 0, -defs.EFAULT
	}
	return pte2pa(*pte) + (va - page), 0
}

// CopyOut copies src into user memory starting at va (spec §4.3
// "copy_out"), walking the page table one page at a time so the copy
// never runs past an unmapped or non-user page.
func (as *AddrSpace_t) CopyOut(h *cpu.Hart_t, va uintptr, src []byte) defs.Err_t {
	for len(src) > 0 {
		pa, err := as.translate(h, va, true)
		if err != 0 {
			return err
		}
		pageOff := pa % PageSize
		n := int(PageSize - pageOff)
		if n > len(src) {
			n = len(src)
		}
		dst := as.pages.Deref(pa - pageOff)
		copy(dst[pageOff:pageOff+uintptr(n)], src[:n])
		src = src[n:]
		va += uintptr(n)
	}
	return 0
}

// CopyIn copies from user memory starting at va into buf (spec §4.3
// "copy_in").
func (as *AddrSpace_t) CopyIn(h *cpu.Hart_t, buf []byte, va uintptr) defs.Err_t {
	for len(buf) > 0 {
		pa, err := as.translate(h, va, true)
		if err != 0 {
			return err
		}
		pageOff := pa % PageSize
		n := int(PageSize - pageOff)
		if n > len(buf) {
			n = len(buf)
		}
		src := as.pages.Deref(pa - pageOff)
		copy(buf[:n], src[pageOff:pageOff+uintptr(n)])
		buf = buf[n:]
		va += uintptr(n)
	}
	return 0
}

// CopyInStr copies a NUL-terminated string from user memory at va into
// buf, stopping at the first NUL. It fails with EINVAL if no NUL is
// found within len(buf) bytes (spec §4.3 "copy_in_str"). Returns the
// string length excluding the NUL.
func (as *AddrSpace_t) CopyInStr(h *cpu.Hart_t, buf []byte, va uintptr) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		pa, err := as.translate(h, va, true)
		if err != 0 {
			return 0, err
		}
		pageOff := pa % PageSize
		avail := int(PageSize - pageOff)
		src := as.pages.Deref(pa - pageOff)
		for i := 0; i < avail && n < len(buf); i++ {
			c := src[pageOff+uintptr(i)]
			if c == 0 {
				return n, 0
			}
			buf[n] = c
			n++
			va++
		}
	}
	return 0, -defs.EINVAL
}

// CopyTo duplicates this address space's user image, page by page,
// into dst — used by fork to give the child its own copy rather than
// sharing frames (spec §4.3 "copy_to"; this kernel has no COW, matching
// the Non-goal "demand paging beyond optional lazy sbrk").
func (as *AddrSpace_t) CopyTo(h *cpu.Hart_t, dst *AddrSpace_t, size int) defs.Err_t {
	top := roundup(size)
	for va := uintptr(0); va < uintptr(top); va += PageSize {
		pte, ok := as.Walk(h, va, false)
		if !ok || pte == nil || *pte&PteV == 0 {
			continue
		}
		perm := Perm(*pte & (PteR | PteW | PteX | PteU | PteG))
		srcPA := pte2pa(*pte)
		f, ok := dst.pages.Alloc(h)
		if !ok {
			dst.Unmap(h, 0, top/PageSize, true)
			return -defs.ENOMEM
		}
		copy(f.Bytes[:], as.pages.Deref(srcPA)[:])
		if err := dst.Map(h, va, dst.pages.PA(f), PageSize, perm); err != 0 {
			dst.pages.Free(h, f)
			dst.Unmap(h, 0, top/PageSize, true)
			return err
		}
	}
	return 0
}

// HandleFault is the optional lazy-allocation hook invoked from the
// trap handler on a store/load page fault within the process's declared
// size (spec §4.3 "handle_fault", §9 "Lazy sbrk"). It allocates,
// zeroes, and maps a single writable page at the faulting address,
// rounded down to a page boundary. Returns EFAULT if faultVA falls
// outside [0, Size).
func (as *AddrSpace_t) HandleFault(h *cpu.Hart_t, faultVA uintptr) defs.Err_t {
	if int(faultVA) >= as.Size {
		return -defs.EFAULT
	}
	page := faultVA &^ (PageSize - 1)
	if pte, ok := as.Walk(h, page, false); ok && pte != nil && *pte&PteV != 0 {
		// Already mapped; nothing to do (e.g. a racing second fault).
		return 0
	}
	f, ok := as.pages.Alloc(h)
	if !ok {
		return -defs.ENOMEM
	}
	if err := as.Map(h, page, as.pages.PA(f), PageSize, PermR|PermW|PermU); err != 0 {
		as.pages.Free(h, f)
		return err
	}
	return 0
}
