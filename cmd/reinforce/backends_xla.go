//go:build xla

package main

import (
	// Accelerated backend: it requires the XLA/PJRT C libraries installed.
	_ "github.com/gomlx/gomlx/backends/xla"
)
