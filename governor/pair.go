package governor

import "time"

// PairConfig describes the reader and writer capacity for one connection
// manager.
type PairConfig struct {
	ReaderCapacity int
	WriterCapacity int
	Timeout        time.Duration

	// Share means the reader and writer targets are equivalent apart from
	// credentials, so both roles draw from one underlying capacity instead of
	// double-reserving against the same server.
	Share bool
	// WriterPinned reserves one slot of a shared pool for the single pinned
	// writer and gives the remainder to readers.
	WriterPinned bool
	// SingleConnection fixes writer capacity to 1 and disables the reader
	// governor entirely: there is only one connection to govern.
	SingleConnection bool
}

// NewPair builds the reader and writer governors for a manager. When capacity
// is shared without a pinned writer both roles get the same governor.
func NewPair(cfg PairConfig) (reader, writer *Governor) {
	if cfg.SingleConnection {
		writer = New(Config{Capacity: 1, Timeout: cfg.Timeout})
		reader = New(Config{Disabled: true})
		return reader, writer
	}

	if cfg.WriterPinned {
		// A pinned writer is one connection, however much writer capacity
		// was configured.
		writer = New(Config{Capacity: 1, Timeout: cfg.Timeout})
		readerCap := cfg.ReaderCapacity
		if cfg.Share {
			// Reserve the writer's slot out of the shared capacity.
			readerCap = sharedCapacity(cfg) - 1
		}
		if readerCap < 1 {
			readerCap = 1
		}
		reader = New(Config{Capacity: readerCap, Timeout: cfg.Timeout})
		reader.shared, writer.shared = cfg.Share, cfg.Share
		return reader, writer
	}

	if !cfg.Share {
		reader = New(Config{Capacity: cfg.ReaderCapacity, Timeout: cfg.Timeout})
		writer = New(Config{Capacity: cfg.WriterCapacity, Timeout: cfg.Timeout})
		return reader, writer
	}

	shared := New(Config{Capacity: sharedCapacity(cfg), Timeout: cfg.Timeout})
	shared.shared = true
	return shared, shared
}

// sharedCapacity is the minimum of the configured maxima, so the more
// conservative of the two settings wins.
func sharedCapacity(cfg PairConfig) int {
	capacity := cfg.ReaderCapacity
	if cfg.WriterCapacity < capacity {
		capacity = cfg.WriterCapacity
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}
