package csx

import "github.com/ehrlich-b/go-csx/internal/constants"

// Re-export constants for public API
const (
	PayloadSize      = constants.PayloadSize
	FrameHeaderSize  = constants.FrameHeaderSize
	MaxFramePayload  = constants.MaxFramePayload
	MaxAllocSize     = constants.MaxAllocSize
	AllocAlignment   = constants.AllocAlignment
	ComputeTimeout   = constants.ComputeTimeout
	IdentifyMarker   = constants.IdentifyMarker
	DefaultDevDir    = constants.DefaultDevDir
	DefaultRelayNode = constants.DefaultRelayNode

	DefaultRelayService = constants.DefaultRelayService
	DefaultListenPort   = constants.DefaultListenPort
)
