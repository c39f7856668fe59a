package health

import (
	"testing"
	"time"
)

func TestStatusUpdateHealthyAfterFirstSuccess(t *testing.T) {
	status := NewStatus()
	config := DefaultConfig()

	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, config)

	if !status.Healthy {
		t.Error("expected healthy after a single success")
	}
	if status.ConsecutiveSuccesses != 1 {
		t.Errorf("expected 1 consecutive success, got %d", status.ConsecutiveSuccesses)
	}
}

func TestStatusUpdateUnhealthyAfterRetryThreshold(t *testing.T) {
	status := NewStatus()
	config := Config{Retries: 3}

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, config)
	if !status.Healthy {
		t.Error("expected still healthy before hitting retry threshold")
	}

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, config)
	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, config)

	if status.Healthy {
		t.Error("expected unhealthy after reaching retry threshold")
	}
	if status.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", status.ConsecutiveFailures)
	}
}

func TestStatusUpdateResetsOnSuccess(t *testing.T) {
	status := NewStatus()
	config := Config{Retries: 3}

	status.Update(Result{Healthy: false}, config)
	status.Update(Result{Healthy: false}, config)
	status.Update(Result{Healthy: true}, config)

	if status.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset to 0, got %d", status.ConsecutiveFailures)
	}
	if !status.Healthy {
		t.Error("expected healthy after a success")
	}
}

func TestInStartPeriod(t *testing.T) {
	status := NewStatus()
	config := Config{StartPeriod: time.Hour}

	if !status.InStartPeriod(config) {
		t.Error("expected to be within start period immediately after creation")
	}

	config.StartPeriod = 0
	if status.InStartPeriod(config) {
		t.Error("expected no start period when StartPeriod is zero")
	}
}
