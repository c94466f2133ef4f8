package sim

import (
	"testing"

	"github.com/rvlabs/rvlink/pkg/rsp"
)

func TestFlashAliasAddressing(t *testing.T) {
	tgt := New()

	words := make([]uint32, rsp.PageWords)
	for i := range words {
		words[i] = uint32(i)
	}
	if err := tgt.WriteFlash(0x08000040, words); err != nil {
		t.Fatalf("WriteFlash: %v", err)
	}

	// The same page must be readable at the zero-based mirror.
	v, err := tgt.GetMem(0x40)
	if err != nil {
		t.Fatalf("GetMem: %v", err)
	}
	if v != 0 {
		t.Fatalf("word 0 = %#x", v)
	}
	v, _ = tgt.GetMem(0x44)
	if v != 1 {
		t.Fatalf("word 1 = %#x", v)
	}
}

func TestRAMReadWrite(t *testing.T) {
	tgt := New()

	if err := tgt.SetMem(0x20000010, 0xCAFEBABE); err != nil {
		t.Fatalf("SetMem: %v", err)
	}
	v, err := tgt.GetMem(0x20000010)
	if err != nil {
		t.Fatalf("GetMem: %v", err)
	}
	if v != 0xCAFEBABE {
		t.Fatalf("got %#x", v)
	}

	if _, err := tgt.GetMem(0x30000000); err == nil {
		t.Fatalf("unmapped read did not fail")
	}
}

func TestErasesRestoreFF(t *testing.T) {
	tgt := New()

	words := make([]uint32, rsp.PageWords)
	if err := tgt.WriteFlash(0x0, words); err != nil {
		t.Fatalf("WriteFlash: %v", err)
	}
	if err := tgt.WipePage(0x0); err != nil {
		t.Fatalf("WipePage: %v", err)
	}
	if tgt.Flash[0] != 0xFF {
		t.Fatalf("page erase did not restore 0xFF")
	}
	if tgt.PageErases != 1 || tgt.PagePrograms != 1 {
		t.Fatalf("counters: %d erases, %d programs", tgt.PageErases, tgt.PagePrograms)
	}

	if err := tgt.WipeSector(0x123); err == nil {
		t.Fatalf("unaligned sector erase did not fail")
	}
}
