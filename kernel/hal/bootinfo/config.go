package bootinfo

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MachineConfig is a YAML description of a synthetic machine, used by tests
// and tools to stand in for a firmware handoff.
type MachineConfig struct {
	Memory []struct {
		Class string  `yaml:"class"`
		Base  uintptr `yaml:"base"`
		Pages uintptr `yaml:"pages"`
	} `yaml:"memory"`

	Kernel struct {
		Base uintptr `yaml:"base"`
		Size uintptr `yaml:"size"`
	} `yaml:"kernel"`

	Framebuffer struct {
		Width  uint32  `yaml:"width"`
		Height uint32  `yaml:"height"`
		Base   uintptr `yaml:"base"`
	} `yaml:"framebuffer"`

	APIC struct {
		LapicBase uint32   `yaml:"lapic_base"`
		PCAT      bool     `yaml:"pcat"`
		IOAPICs   []uint32 `yaml:"ioapics"`
	} `yaml:"apic"`
}

// LoadConfig decodes a YAML machine description into a firmware handoff.
func LoadConfig(data []byte) (*BootInfo, error) {
	var cfg MachineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("machine config: %w", err)
	}
	return cfg.BootInfo()
}

// BootInfo assembles the firmware handoff the configuration describes.
func (cfg *MachineConfig) BootInfo() (*BootInfo, error) {
	mmap := &MemoryMap{DescSize: 48, DescVersion: 1}
	for _, region := range cfg.Memory {
		class, ok := classFromName(region.Class)
		if !ok {
			return nil, fmt.Errorf("machine config: unknown memory class %q", region.Class)
		}
		mmap.Descriptors = append(mmap.Descriptors, MemoryDescriptor{
			Class:           class,
			PhysicalAddress: region.Base,
			NumPages:        region.Pages,
		})
	}
	mmap.Size = mmap.DescSize * uintptr(len(mmap.Descriptors))

	gmode := &GraphicsMode{
		Horizontal:        cfg.Framebuffer.Width,
		Vertical:          cfg.Framebuffer.Height,
		PixelsPerScanline: cfg.Framebuffer.Width,
		Framebuffer:       cfg.Framebuffer.Base,
		FramebufferSize:   uintptr(cfg.Framebuffer.Width) * uintptr(cfg.Framebuffer.Height) * 4,
	}

	lapicBase := cfg.APIC.LapicBase
	if lapicBase == 0 {
		lapicBase = 0xFEE0_0000
	}
	madt := MADTBuilder{LapicAddress: lapicBase}
	if cfg.APIC.PCAT {
		madt.Flags |= MADTFlagPCAT
	}
	for i, addr := range cfg.APIC.IOAPICs {
		madt.AddIOAPIC(uint8(i), addr, uint32(i)*24)
	}

	return &BootInfo{
		MemoryMap:       mmap,
		GraphicsMode:    gmode,
		RSDP:            &RSDP{Revision: 2, MADT: madt.Build()},
		KernelPhysStart: cfg.Kernel.Base,
		KernelPhysEnd:   cfg.Kernel.Base + cfg.Kernel.Size,
	}, nil
}

func classFromName(name string) (MemoryClass, bool) {
	for c := MemReserved; c < MemMax; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}
