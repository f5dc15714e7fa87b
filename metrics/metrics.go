package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names recorded by the paywall components.
const (
	EventRegistrationSubmitted = "registration_submitted"
	EventRegistrationAccepted  = "registration_accepted"
	EventRegistrationVisible   = "registration_visible"
	EventRegistrationTimeout   = "registration_timeout"
	EventDeploymentActive      = "deployment_active"
	EventDeploymentUnknown     = "deployment_unknown"
	EventPaymentMatched        = "payment_matched"
	EventPaymentUnderpaid      = "payment_underpaid"
)
