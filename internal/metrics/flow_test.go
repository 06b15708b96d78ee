package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFlowFailed_FoldsUnknownCodes(t *testing.T) {
	before := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "other"))

	FlowFailed("login", []string{"not_a_real_code"})

	after := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "other"))
	if after-before != 1 {
		t.Errorf("expected other to increase by 1, got %v", after-before)
	}
}

func TestFlowFailed_CountsEachCode(t *testing.T) {
	outcomeBefore := testutil.ToFloat64(FlowOutcomesTotal.WithLabelValues("login", "failure"))
	emptyBefore := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "empty_username"))
	pwBefore := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "empty_password"))

	FlowFailed("login", []string{"empty_username", "empty_password"})

	if got := testutil.ToFloat64(FlowOutcomesTotal.WithLabelValues("login", "failure")) - outcomeBefore; got != 1 {
		t.Errorf("expected one failure outcome, got %v", got)
	}
	if got := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "empty_username")) - emptyBefore; got != 1 {
		t.Errorf("expected empty_username +1, got %v", got)
	}
	if got := testutil.ToFloat64(FlowFailureCodesTotal.WithLabelValues("login", "empty_password")) - pwBefore; got != 1 {
		t.Errorf("expected empty_password +1, got %v", got)
	}
}

func TestHoneypotTripped(t *testing.T) {
	before := testutil.ToFloat64(HoneypotTripsTotal)
	HoneypotTripped()
	if got := testutil.ToFloat64(HoneypotTripsTotal) - before; got != 1 {
		t.Errorf("expected +1, got %v", got)
	}
}

func TestEmailAttempted(t *testing.T) {
	sent := testutil.ToFloat64(EmailsTotal.WithLabelValues("password_reset", "sent"))
	failed := testutil.ToFloat64(EmailsTotal.WithLabelValues("password_reset", "failed"))

	EmailAttempted("password_reset", nil)
	EmailAttempted("password_reset", errors.New("smtp down"))

	if got := testutil.ToFloat64(EmailsTotal.WithLabelValues("password_reset", "sent")) - sent; got != 1 {
		t.Errorf("sent: expected +1, got %v", got)
	}
	if got := testutil.ToFloat64(EmailsTotal.WithLabelValues("password_reset", "failed")) - failed; got != 1 {
		t.Errorf("failed: expected +1, got %v", got)
	}
}
