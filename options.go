package lsmgo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/lsmgo/lsmgo/codec"
)

// Options configures an Open call. The zero value is never used
// directly — Open always starts from DefaultOptions() and applies
// functional Option overrides on top, in the idiom the pack's
// configurable stores use (e.g. lotusdb's Options).
type Options struct {
	MemtableThresholdBytes int
	DataBlockSize          int
	BloomFPR               float64
	Compression            codec.Kind
	BlockCacheBytes        int
	MaxLevels              int
	L0CompactionTrigger    int
	LevelRatio             int
	SyncOnWrite            bool

	Logger            *logrus.Logger
	MetricsRegisterer prometheus.Registerer
}

// DefaultOptions returns the engine's default configuration.
func DefaultOptions() Options {
	return Options{
		MemtableThresholdBytes: 1 << 20, // 1 MiB
		DataBlockSize:          4096,
		BloomFPR:               0.01,
		Compression:            codec.Gzip,
		BlockCacheBytes:        64 << 20, // 64 MiB
		MaxLevels:              7,
		L0CompactionTrigger:    4,
		LevelRatio:             10,
		SyncOnWrite:            true,
		Logger:                 logrus.StandardLogger(),
	}
}

// Option mutates an Options value built from DefaultOptions().
type Option func(*Options)

func WithMemtableThresholdBytes(n int) Option {
	return func(o *Options) { o.MemtableThresholdBytes = n }
}

func WithDataBlockSize(n int) Option {
	return func(o *Options) { o.DataBlockSize = n }
}

func WithBloomFPR(p float64) Option {
	return func(o *Options) { o.BloomFPR = p }
}

func WithCompression(k codec.Kind) Option {
	return func(o *Options) { o.Compression = k }
}

func WithBlockCacheBytes(n int) Option {
	return func(o *Options) { o.BlockCacheBytes = n }
}

func WithMaxLevels(n int) Option {
	return func(o *Options) { o.MaxLevels = n }
}

func WithL0CompactionTrigger(n int) Option {
	return func(o *Options) { o.L0CompactionTrigger = n }
}

func WithLevelRatio(n int) Option {
	return func(o *Options) { o.LevelRatio = n }
}

func WithSyncOnWrite(sync bool) Option {
	return func(o *Options) { o.SyncOnWrite = sync }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) { o.MetricsRegisterer = r }
}
