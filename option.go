package tonpaywall

import (
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		g.rec = r
	}
}
