package metrics

import (
	"time"

	"github.com/songhahaha66/inlong/internal/ports"
)

// Noop discards all measurements.
type Noop struct{}

var _ ports.Metrics = Noop{}

func (Noop) MessageEnqueued(string, int) {}
func (Noop) MessageRejected(string, string) {}
func (Noop) BatchFlushed(string, string, int, int) {}
func (Noop) BatchCompressed(string, int, int) {}
func (Noop) SendAttempt(string, string, time.Duration) {}
func (Noop) BatchCompleted(string, bool, int) {}
func (Noop) InflightBatches(int) {}
func (Noop) EndpointHealth(string, bool) {}
func (Noop) EndpointsKnown(int) {}
func (Noop) ConnectionsOpen(string, int) {}
func (Noop) ResolveCompleted(bool) {}
