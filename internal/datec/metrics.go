package datec

import "time"

// Metrics receives saga and delivery outcomes.
type Metrics interface {
	StepFinished(saga, step, outcome string)
	SagaFinished(saga, status string, d time.Duration)
	BestEffortFailed(saga, step string)
	NotificationDelivered(kind string, ok bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) StepFinished(string, string, string)        {}
func (NopMetrics) SagaFinished(string, string, time.Duration) {}
func (NopMetrics) BestEffortFailed(string, string)            {}
func (NopMetrics) NotificationDelivered(string, bool)         {}
