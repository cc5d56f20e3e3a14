package edgewasm

// EngineConfig holds knobs fixed at Engine construction time. It is never
// parsed from a file by this package — consuming a structured
// configuration record is an external collaborator's job (the loader);
// EngineConfig only declares the yaml tags that loader would map onto.
type EngineConfig struct {
	PoolingAllocator    bool   `yaml:"pooling_allocator"`
	MaxInstances        uint32 `yaml:"max_instances"`
	InstanceMemoryMB    uint32 `yaml:"instance_memory_mb"`
	CacheCompiledModules bool  `yaml:"cache_compiled_modules"`
	ModuleCacheSize     int    `yaml:"module_cache_size"`
	CacheDir            string `yaml:"cache_dir"`
	EpochInterruption   bool   `yaml:"epoch_interruption"`
	EpochTickPeriodMS   uint32 `yaml:"epoch_tick_period_ms"`
}

// DefaultEngineConfig returns an EngineConfig with the defaults named in
// the data model.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		PoolingAllocator:     true,
		MaxInstances:         1000,
		InstanceMemoryMB:     64,
		CacheCompiledModules: true,
		ModuleCacheSize:      100,
		EpochInterruption:    true,
		EpochTickPeriodMS:    1,
	}
}

// ApplyDefaults fills zero-valued fields with DefaultEngineConfig's
// values, leaving explicit non-zero settings untouched.
func (c *EngineConfig) ApplyDefaults() {
	d := DefaultEngineConfig()
	if c.MaxInstances == 0 {
		c.MaxInstances = d.MaxInstances
	}
	if c.InstanceMemoryMB == 0 {
		c.InstanceMemoryMB = d.InstanceMemoryMB
	}
	if c.ModuleCacheSize == 0 {
		c.ModuleCacheSize = d.ModuleCacheSize
	}
	if c.EpochTickPeriodMS == 0 {
		c.EpochTickPeriodMS = d.EpochTickPeriodMS
	}
}

// Validate checks EngineConfig for inconsistencies that would make
// NewEngine fail with InvalidConfig. It returns every violation found,
// not just the first.
func (c *EngineConfig) Validate() []error {
	var errs []error
	if c.PoolingAllocator && c.MaxInstances == 0 {
		errs = append(errs, &ConfigError{Field: "MaxInstances", Message: "must be positive when pooling_allocator is enabled"})
	}
	if c.InstanceMemoryMB == 0 {
		errs = append(errs, &ConfigError{Field: "InstanceMemoryMB", Message: "must be positive"})
	}
	// A single instance's linear memory is capped by wasm32's 4 GiB
	// address space; guard against a config that can never be satisfied.
	const maxAddressableMB = 4 * 1024
	if c.InstanceMemoryMB > maxAddressableMB {
		errs = append(errs, &ConfigError{Field: "InstanceMemoryMB", Message: "exceeds the 4GiB wasm32 address space"})
	}
	if c.ModuleCacheSize < 0 {
		errs = append(errs, &ConfigError{Field: "ModuleCacheSize", Message: "must not be negative"})
	}
	return errs
}

// WithPooling returns a copy with pooling allocator settings set.
func (c *EngineConfig) WithPooling(enabled bool, maxInstances, instanceMemoryMB uint32) *EngineConfig {
	cp := *c
	cp.PoolingAllocator = enabled
	cp.MaxInstances = maxInstances
	cp.InstanceMemoryMB = instanceMemoryMB
	return &cp
}

// WithModuleCache returns a copy with module cache settings set.
func (c *EngineConfig) WithModuleCache(enabled bool, size int, dir string) *EngineConfig {
	cp := *c
	cp.CacheCompiledModules = enabled
	cp.ModuleCacheSize = size
	cp.CacheDir = dir
	return &cp
}

// ExecutionConfig holds knobs set per invocation.
type ExecutionConfig struct {
	MaxFuel       uint64 `yaml:"max_fuel"`
	TimeoutMS     uint64 `yaml:"timeout_ms"`
	MaxMemoryMB   uint32 `yaml:"max_memory_mb"`
	FuelMetering  bool   `yaml:"fuel_metering"`
}

// DefaultExecutionConfig returns an ExecutionConfig with the defaults
// named in the data model.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		MaxFuel:      10_000_000,
		TimeoutMS:    100,
		MaxMemoryMB:  128,
		FuelMetering: true,
	}
}

// ApplyDefaults fills zero-valued fields with DefaultExecutionConfig's
// values.
func (c *ExecutionConfig) ApplyDefaults() {
	d := DefaultExecutionConfig()
	if c.MaxFuel == 0 {
		c.MaxFuel = d.MaxFuel
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = d.TimeoutMS
	}
	if c.MaxMemoryMB == 0 {
		c.MaxMemoryMB = d.MaxMemoryMB
	}
}

// Validate checks ExecutionConfig for inconsistencies.
func (c *ExecutionConfig) Validate() []error {
	var errs []error
	if c.MaxFuel == 0 {
		errs = append(errs, &ConfigError{Field: "MaxFuel", Message: "must be positive"})
	}
	if c.TimeoutMS == 0 {
		errs = append(errs, &ConfigError{Field: "TimeoutMS", Message: "must be positive"})
	}
	if c.MaxMemoryMB == 0 {
		errs = append(errs, &ConfigError{Field: "MaxMemoryMB", Message: "must be positive"})
	}
	return errs
}

// WithTimeout returns a copy with the timeout set.
func (c *ExecutionConfig) WithTimeout(timeoutMS uint64) *ExecutionConfig {
	cp := *c
	cp.TimeoutMS = timeoutMS
	return &cp
}

// WithFuel returns a copy with the fuel budget set.
func (c *ExecutionConfig) WithFuel(maxFuel uint64) *ExecutionConfig {
	cp := *c
	cp.MaxFuel = maxFuel
	return &cp
}

// WithMemoryLimit returns a copy with the memory ceiling set.
func (c *ExecutionConfig) WithMemoryLimit(maxMemoryMB uint32) *ExecutionConfig {
	cp := *c
	cp.MaxMemoryMB = maxMemoryMB
	return &cp
}
