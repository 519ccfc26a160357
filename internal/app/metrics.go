package app

import (
	"time"

	"github.com/songhahaha66/inlong/internal/ports"
)

// nopMetrics is used when no metrics sink is configured.
type nopMetrics struct{}

var _ ports.Metrics = nopMetrics{}

func (nopMetrics) MessageEnqueued(string, int) {}
func (nopMetrics) MessageRejected(string, string) {}
func (nopMetrics) BatchFlushed(string, string, int, int) {}
func (nopMetrics) BatchCompressed(string, int, int) {}
func (nopMetrics) SendAttempt(string, string, time.Duration) {}
func (nopMetrics) BatchCompleted(string, bool, int) {}
func (nopMetrics) InflightBatches(int) {}
func (nopMetrics) EndpointHealth(string, bool) {}
func (nopMetrics) EndpointsKnown(int) {}
func (nopMetrics) ConnectionsOpen(string, int) {}
func (nopMetrics) ResolveCompleted(bool) {}

func orNop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
