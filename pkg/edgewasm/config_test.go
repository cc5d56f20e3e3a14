package edgewasm

import "testing"

func TestEngineConfig_ApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	cfg := &EngineConfig{MaxInstances: 5}
	cfg.ApplyDefaults()

	if cfg.MaxInstances != 5 {
		t.Fatalf("expected an explicit non-zero MaxInstances to survive, got %d", cfg.MaxInstances)
	}
	d := DefaultEngineConfig()
	if cfg.InstanceMemoryMB != d.InstanceMemoryMB {
		t.Fatalf("expected InstanceMemoryMB defaulted to %d, got %d", d.InstanceMemoryMB, cfg.InstanceMemoryMB)
	}
	if cfg.ModuleCacheSize != d.ModuleCacheSize {
		t.Fatalf("expected ModuleCacheSize defaulted to %d, got %d", d.ModuleCacheSize, cfg.ModuleCacheSize)
	}
	if cfg.EpochTickPeriodMS != d.EpochTickPeriodMS {
		t.Fatalf("expected EpochTickPeriodMS defaulted to %d, got %d", d.EpochTickPeriodMS, cfg.EpochTickPeriodMS)
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       EngineConfig
		wantErrs  int
	}{
		{"valid defaults", *DefaultEngineConfig(), 0},
		{"pooling with zero max instances", EngineConfig{PoolingAllocator: true, MaxInstances: 0, InstanceMemoryMB: 64}, 1},
		{"zero instance memory", EngineConfig{InstanceMemoryMB: 0}, 1},
		{"instance memory beyond wasm32 address space", EngineConfig{InstanceMemoryMB: 8192}, 1},
		{"negative module cache size", EngineConfig{InstanceMemoryMB: 64, ModuleCacheSize: -1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.cfg.Validate()
			if len(errs) != tt.wantErrs {
				t.Fatalf("expected %d errors, got %d: %v", tt.wantErrs, len(errs), errs)
			}
		})
	}
}

func TestEngineConfig_WithPoolingReturnsIndependentCopy(t *testing.T) {
	base := DefaultEngineConfig()
	modified := base.WithPooling(false, 10, 32)

	if base.PoolingAllocator == modified.PoolingAllocator {
		t.Fatal("expected WithPooling to leave the original config untouched")
	}
	if modified.MaxInstances != 10 || modified.InstanceMemoryMB != 32 {
		t.Fatalf("unexpected modified config: %+v", modified)
	}
}

func TestEngineConfig_WithModuleCacheReturnsIndependentCopy(t *testing.T) {
	base := DefaultEngineConfig()
	modified := base.WithModuleCache(false, 7, "/tmp/cache")

	if base.CacheCompiledModules == modified.CacheCompiledModules {
		t.Fatal("expected WithModuleCache to leave the original config untouched")
	}
	if modified.ModuleCacheSize != 7 || modified.CacheDir != "/tmp/cache" {
		t.Fatalf("unexpected modified config: %+v", modified)
	}
}

func TestExecutionConfig_ApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	cfg := &ExecutionConfig{MaxFuel: 42}
	cfg.ApplyDefaults()

	if cfg.MaxFuel != 42 {
		t.Fatalf("expected an explicit non-zero MaxFuel to survive, got %d", cfg.MaxFuel)
	}
	d := DefaultExecutionConfig()
	if cfg.TimeoutMS != d.TimeoutMS {
		t.Fatalf("expected TimeoutMS defaulted to %d, got %d", d.TimeoutMS, cfg.TimeoutMS)
	}
	if cfg.MaxMemoryMB != d.MaxMemoryMB {
		t.Fatalf("expected MaxMemoryMB defaulted to %d, got %d", d.MaxMemoryMB, cfg.MaxMemoryMB)
	}
}

func TestExecutionConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ExecutionConfig
		wantErrs int
	}{
		{"valid defaults", *DefaultExecutionConfig(), 0},
		{"zero max fuel", ExecutionConfig{TimeoutMS: 100, MaxMemoryMB: 128}, 1},
		{"zero timeout", ExecutionConfig{MaxFuel: 100, MaxMemoryMB: 128}, 1},
		{"zero max memory", ExecutionConfig{MaxFuel: 100, TimeoutMS: 100}, 1},
		{"everything zero", ExecutionConfig{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.cfg.Validate()
			if len(errs) != tt.wantErrs {
				t.Fatalf("expected %d errors, got %d: %v", tt.wantErrs, len(errs), errs)
			}
		})
	}
}

func TestExecutionConfig_FluentWithersReturnIndependentCopies(t *testing.T) {
	base := DefaultExecutionConfig()

	withTimeout := base.WithTimeout(500)
	if base.TimeoutMS == withTimeout.TimeoutMS {
		t.Fatal("expected WithTimeout to leave the original config untouched")
	}

	withFuel := base.WithFuel(123)
	if base.MaxFuel == withFuel.MaxFuel {
		t.Fatal("expected WithFuel to leave the original config untouched")
	}

	withMem := base.WithMemoryLimit(16)
	if base.MaxMemoryMB == withMem.MaxMemoryMB {
		t.Fatal("expected WithMemoryLimit to leave the original config untouched")
	}
}
