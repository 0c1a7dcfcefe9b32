// Package sampler defines the probe-side contract every measurement module
// implements, and the scheduler that drives them. Grounded on the
// Collector interface in ja7ad-consumption's pkg/system/proc, generalized to pass
// explicit state rather than reach through global registries.
package sampler

import "github.com/hostmon/symon/pkg/wire"

// Module is one measurement source: CPU, interfaces, disks, or the process
// accounting module. SampleAll is called once per scheduler tick and
// returns zero or more records ready to be packed onto the wire.
type Module interface {
	// Name identifies the module for logging and configuration.
	Name() string

	// PrivInit performs any setup that needs elevated privilege before the
	// probe drops them (e.g. opening a raw socket). Most modules are no-ops.
	PrivInit() error

	// Init performs unprivileged setup once streams are known: resolving
	// descriptors, building lookup structures, etc.
	Init(streams []StreamConfig) error

	// SampleAll gathers one tick's measurements for every stream this module
	// owns and returns them as wire records. A module with nothing to
	// report this tick (e.g. a process stream with no live match) returns
	// an empty slice, not an error.
	SampleAll() ([]wire.Record, error)
}

// StreamConfig names one instance a module should track: the record type,
// the instance argument (command name, interface name, …), and the archive
// series it reports under. This mirrors the source/stream registration
// a source's registered streams, narrowed to what a Module needs to initialize.
type StreamConfig struct {
	Type    wire.RecordType
	Arg     string
	Archive string
}
