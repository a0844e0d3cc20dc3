package service

const (
	defaultLocalMean = 20.0
)

type Config struct {
	// Protocol related configuration:
	ValidatorAddress string  `long:"validator-address" description:"Network identity the issued timers and certificates are bound to"`
	LocalMean        float64 `long:"local-mean"        description:"Target mean wait duration in seconds"`
}

func DefaultConfig() Config {
	return Config{
		LocalMean: defaultLocalMean,
	}
}
