package rlz

import "time"

// Endpoint constants for the financial ping. The server and port can be
// overridden through transport.Options; the path, user agent and field names
// are fixed parts of the protocol.
const (
	// PingPath is the path of the financial ping endpoint.
	PingPath = "/tools/pso/ping"

	// DefaultServer and DefaultServerPort locate the confirmation server.
	DefaultServer     = "clients1.google.com"
	DefaultServerPort = 80

	// PingUserAgent is sent on every financial ping exchange.
	PingUserAgent = "financial-ping"
)

// CGI variable names composing the ping query string, in the order the
// request builder emits them.
const (
	CGISignature      = "signature"
	CGIBrand          = "brand"
	CGIProductID      = "id"
	CGILanguage       = "lang"
	CGIEvents         = "events"
	CGIStatefulEvents = "stateful-events"
	CGIRlz            = "rlz"
	CGIMachineID      = "machineId"
	CGIDealCode       = "dcc"
	CGIChecksum       = "crc32"

	// ProtocolArgument marks the RLZ exchange protocol revision in every
	// RLZ-parameters fragment.
	ProtocolArgument = "rep=2"
)

// Buffer limits shared by the encoders, the request builder and the
// transport. Fragments and requests beyond these limits are rejected rather
// than truncated.
const (
	MaxRlzLength          = 64
	MaxDealCodeLength     = 128
	MaxCGILength          = 2048
	MaxPingResponseLength = 16 * 1024
)

// Ping cadence. Products with unreported events ping sooner than products
// that are merely checking in.
const (
	EventsPingInterval   = 24 * time.Hour
	NoEventsPingInterval = 7 * 24 * time.Hour
)
