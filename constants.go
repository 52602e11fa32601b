package tlschannel

const (
	// MaxDataSize is the maximum plaintext payload carried by a single
	// record: 2^15 bytes, intentionally one bit larger than the TLS-spec
	// 2^14 to accommodate engine behavior observed in some
	// implementations (bit-exact per the design this module implements).
	MaxDataSize = 32768

	// MaxRecordSize bounds a single wrapped record: 5 (header) + 256 (IV)
	// + 32768 (data) + 256 (padding) + 20 (MAC).
	MaxRecordSize = 5 + 256 + MaxDataSize + 256 + 20
)
