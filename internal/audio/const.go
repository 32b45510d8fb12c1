package audio

// WAV layout for 16-bit mono PCM with a canonical 44-byte header.
const (
	riffIDSize       = 4
	riffSizeSize     = 4
	waveIDSize       = 4
	chunkHeaderSize  = 8
	riffHeaderSize   = riffIDSize + riffSizeSize + waveIDSize
	fmtChunkBodySize = 16
	headerSize       = 44

	formatPCM     = 1
	channels      = 1
	bitsPerSample = 16
	bytesPerFrame = channels * bitsPerSample / 8
)

// Tone parameters.
const (
	SendDuration    = 0.150
	SendStartHz     = 800.0
	SendEndHz       = 1400.0
	SendGain        = 0.5
	ReceiveDuration = 0.200
	ReceiveHz       = 1200.0
	ReceiveHz2      = 1500.0
	ReceiveGain     = 0.4
)
