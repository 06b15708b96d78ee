package metrics

// Known failure codes get their own label value; anything else is folded into
// "other" to keep cardinality bounded.
var knownCodes = map[string]bool{
	"empty_username":                  true,
	"empty_password":                  true,
	"invalid_username":                true,
	"incorrect_password":              true,
	"email":                           true,
	"email_exists":                    true,
	"closed":                          true,
	"invalid_email":                   true,
	"invalidcombo":                    true,
	"retrieve_password_email_failure": true,
	"expiredkey":                      true,
	"invalidkey":                      true,
	"password_reset_mismatch":         true,
	"password_reset_empty":            true,
	"csrf":                            true,
	"unknown":                         true,
}

// FlowSucceeded records a successful submission of flow.
func FlowSucceeded(flow string) {
	FlowOutcomesTotal.WithLabelValues(flow, "success").Inc()
}

// FlowFailed records a failed submission of flow and each code it reported.
func FlowFailed(flow string, codes []string) {
	FlowOutcomesTotal.WithLabelValues(flow, "failure").Inc()
	for _, c := range codes {
		if !knownCodes[c] {
			c = "other"
		}
		FlowFailureCodesTotal.WithLabelValues(flow, c).Inc()
	}
}

// HoneypotTripped records a registration dropped as a bot.
func HoneypotTripped() {
	HoneypotTripsTotal.Inc()
	FlowOutcomesTotal.WithLabelValues("register", "honeypot").Inc()
}

// ResetKeyEvent records a reset key lifecycle event.
func ResetKeyEvent(event string) {
	ResetKeysTotal.WithLabelValues(event).Inc()
}

// EmailAttempted records a send attempt of the given kind.
func EmailAttempted(kind string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	EmailsTotal.WithLabelValues(kind, status).Inc()
}
