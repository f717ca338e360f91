package loader

import (
	"bytes"
	"testing"

	"los/kernel/kerneltest"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
)

func TestVerifyExecutableChecks(t *testing.T) {
	img := kerneltest.ELFImage{
		Entry:    0x40_0000,
		Segments: []kerneltest.ELFSegment{{Type: kerneltest.PTLoad, Vaddr: 0x40_0000, Data: []byte{0xC3}}},
	}

	t.Run("valid image", func(t *testing.T) {
		if _, err := verifyExecutable(&kerneltest.MemFile{Data: img.Build()}); err != nil {
			t.Fatalf("expected valid image; got %s", err.Message)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		data := img.Build()
		data[0] = 0x7E
		if _, err := verifyExecutable(&kerneltest.MemFile{Data: data}); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("wrong machine", func(t *testing.T) {
		data := img.Build()
		data[18] = 0x28 // EM_ARM
		if _, err := verifyExecutable(&kerneltest.MemFile{Data: data}); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		data := img.Build()
		data[16] = 3 // ET_DYN
		if _, err := verifyExecutable(&kerneltest.MemFile{Data: data}); err == nil {
			t.Fatal("expected rejection")
		}
	})
}

func TestLoadExecutableMapsSegments(t *testing.T) {
	kerneltest.Boot(t, "")

	code := []byte{0x48, 0x89, 0xC8, 0xC3} // mov rax, rcx; ret
	tls := []byte("tls-seed")

	img := kerneltest.ELFImage{
		Entry: 0x40_1000,
		Segments: []kerneltest.ELFSegment{
			{Type: kerneltest.PTLoad, Vaddr: 0x40_1000, Data: code, Memsz: uint64(len(code)) + 64},
			{Type: kerneltest.PTNote, Vaddr: 0, Data: []byte("ignored")},
			{Type: kerneltest.PTTLS, Vaddr: 0, Data: tls, Memsz: 16, Align: 8},
		},
	}

	var done bool
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		image, err := verifyExecutable(&kerneltest.MemFile{Data: img.Build()})
		if err != nil {
			t.Errorf("verify: %s", err.Message)
			return 1
		}
		defer image.Close()

		loaded, err := loadExecutable(image)
		if err != nil {
			t.Errorf("load: %s", err.Message)
			return 1
		}

		if loaded.entry != 0x40_1000 {
			t.Errorf("entry mismatch: %x", loaded.entry)
		}
		if loaded.tlsSize != 16 || loaded.tlsAlign != 8 {
			t.Errorf("tls descriptor mismatch: %d/%d", loaded.tlsSize, loaded.tlsAlign)
		}

		// The file bytes landed at the segment address; the remainder
		// up to the memory size is zero filled.
		got := make([]byte, len(code)+4)
		vmm.CopyFromUser(got, 0x40_1000)
		if !bytes.Equal(got[:len(code)], code) {
			t.Errorf("segment bytes mismatch: %x", got)
		}
		for _, b := range got[len(code):] {
			if b != 0 {
				t.Errorf("expected zero fill; got %x", got)
				break
			}
		}

		// The TLS template sits at the fixed TLS address.
		tlsGot := make([]byte, 16)
		vmm.CopyFromUser(tlsGot, TLSLocation)
		if !bytes.Equal(tlsGot[:len(tls)], tls) {
			t.Errorf("tls template mismatch: %q", tlsGot)
		}

		done = true
		return 0
	})

	proc.Run()

	if !done {
		t.Fatal("loader thread did not finish")
	}
}

func TestLoadExecutableRejectsKernelSegments(t *testing.T) {
	kerneltest.Boot(t, "")

	img := kerneltest.ELFImage{
		Entry: 0x40_1000,
		Segments: []kerneltest.ELFSegment{
			{Type: kerneltest.PTLoad, Vaddr: uint64(mm.KernelVMA) + 0x1000, Data: []byte{1}},
		},
	}

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		image, err := verifyExecutable(&kerneltest.MemFile{Data: img.Build()})
		if err != nil {
			t.Errorf("verify: %s", err.Message)
			return 1
		}
		defer image.Close()

		if _, err := loadExecutable(image); err == nil {
			t.Error("expected a kernel-half segment to be rejected")
		}
		return 0
	})

	proc.Run()
}

func TestLoadExecutableRejectsTwoTLS(t *testing.T) {
	kerneltest.Boot(t, "")

	img := kerneltest.ELFImage{
		Entry: 0x40_1000,
		Segments: []kerneltest.ELFSegment{
			{Type: kerneltest.PTTLS, Data: []byte{1}, Align: 8},
			{Type: kerneltest.PTTLS, Data: []byte{2}, Align: 8},
		},
	}

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		image, err := verifyExecutable(&kerneltest.MemFile{Data: img.Build()})
		if err != nil {
			t.Errorf("verify: %s", err.Message)
			return 1
		}
		defer image.Close()

		if _, err := loadExecutable(image); err == nil {
			t.Error("expected a second TLS segment to be rejected")
		}
		return 0
	})

	proc.Run()
}
