// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// kernelOptions holds configuration for Kernel construction.
type kernelOptions struct {
	nproc    int
	ncpu     int
	nofile   int
	pipeSize int
	logger   *Logger
}

// --- Kernel Options ---

// KernelOption configures a Kernel instance.
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

// kernelOptionImpl implements KernelOption.
type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (o *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return o.applyKernelFunc(opts)
}

// WithNPROC sets the fixed size of the process table. Default 64, mirroring
// the reference kernel's NPROC.
func WithNPROC(n int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n <= 0 {
			return &RangeError{Message: "NPROC must be positive"}
		}
		opts.nproc = n
		return nil
	}}
}

// WithNCPU sets the number of simulated CPUs (scheduler goroutines).
// Default 8, mirroring the reference kernel's NCPU.
func WithNCPU(n int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n <= 0 {
			return &RangeError{Message: "NCPU must be positive"}
		}
		opts.ncpu = n
		return nil
	}}
}

// WithNOFILE sets the number of open-file-descriptor slots per process.
// Default 16, mirroring the reference kernel's NOFILE.
func WithNOFILE(n int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n <= 0 {
			return &RangeError{Message: "NOFILE must be positive"}
		}
		opts.nofile = n
		return nil
	}}
}

// WithPipeSize sets the byte capacity of each pipe's ring buffer. Default
// 512, mirroring the reference kernel's PIPESIZE.
func WithPipeSize(n int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n <= 0 {
			return &RangeError{Message: "pipe size must be positive"}
		}
		opts.pipeSize = n
		return nil
	}}
}

// WithLogger overrides the structured logger used for lifecycle events.
// When not supplied, Kernel constructs a default logiface/zerolog logger
// writing to os.Stderr at info level.
func WithLogger(l *Logger) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.logger = l
		return nil
	}}
}

// resolveKernelOptions applies KernelOption instances to kernelOptions.
func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		nproc:    64,
		ncpu:     8,
		nofile:   16,
		pipeSize: 512,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
