// Command elfdump prints the program headers the kernel loader consumes
// from an executable and disassembles the instructions at its entry point.
// With -machine it also summarizes a YAML machine description.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"los/kernel/hal/bootinfo"
)

func main() {
	machinePath := flag.String("machine", "", "machine description YAML to summarize")
	disasmBytes := flag.Int("n", 32, "how many entry bytes to disassemble")
	flag.Parse()

	if *machinePath != "" {
		dumpMachine(*machinePath)
	}

	if flag.NArg() != 1 {
		if *machinePath != "" {
			return
		}
		fmt.Fprintf(os.Stderr, "usage: %s [-machine config.yaml] [-n bytes] <executable>\n", os.Args[0])
		os.Exit(1)
	}

	dumpExecutable(flag.Arg(0), *disasmBytes)
}

func dumpMachine(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	info, err := bootinfo.LoadConfig(data)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("machine %s:\n", path)
	var total uintptr
	info.MemoryMap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		fmt.Printf("  %-20s %#012x + %6d pages\n", desc.Class, desc.PhysicalAddress, desc.NumPages)
		total += desc.NumPages
		return true
	})
	fmt.Printf("  total: %d pages, kernel image %#x..%#x\n", total, info.KernelPhysStart, info.KernelPhysEnd)
}

func dumpExecutable(path string, disasmBytes int) {
	f, err := elf.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	fmt.Printf("%s: %s %s %s, entry %#x\n", path, f.Class, f.Machine, f.Type, f.Entry)

	var entryProg *elf.Prog
	for i, prog := range f.Progs {
		fmt.Printf("  phdr %2d: %-10s vaddr %#012x filesz %#8x memsz %#8x align %#x\n",
			i, prog.Type, prog.Vaddr, prog.Filesz, prog.Memsz, prog.Align)

		if prog.Type == elf.PT_LOAD && f.Entry >= prog.Vaddr && f.Entry < prog.Vaddr+prog.Filesz {
			entryProg = prog
		}
	}

	if entryProg == nil {
		fmt.Println("  entry point not backed by a loadable segment")
		return
	}

	buf := make([]byte, disasmBytes)
	n, _ := entryProg.ReadAt(buf, int64(f.Entry-entryProg.Vaddr))
	buf = buf[:n]

	fmt.Println("  entry disassembly:")
	pc := f.Entry
	for len(buf) > 0 {
		inst, err := x86asm.Decode(buf, 64)
		if err != nil {
			fmt.Printf("    %#012x: <undecodable>\n", pc)
			return
		}
		fmt.Printf("    %#012x: %s\n", pc, inst.String())
		buf = buf[inst.Len:]
		pc += uint64(inst.Len)
	}
}
