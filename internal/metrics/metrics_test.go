package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegistrationPanics は同じレジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

func TestRecordAuthAttempt_IncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("bearer", OutcomeSuccess)
	c.RecordAuthAttempt("bearer", OutcomeSuccess)
	c.RecordAuthAttempt("api_key", OutcomeRejected)

	m := findMetric(t, reg, "savezy_auth_requests_total", map[string]string{"channel": "bearer", "outcome": "success"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("bearer/success = %v, want 2", got)
	}
	m = findMetric(t, reg, "savezy_auth_requests_total", map[string]string{"channel": "api_key", "outcome": "rejected"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("api_key/rejected = %v, want 1", got)
	}
}

func TestRecordFederationAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFederation("code", OutcomeError)
	c.RecordOAuthState("redeem", OutcomeRejected)

	m := findMetric(t, reg, "savezy_federation_total", map[string]string{"flow": "code", "outcome": "error"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("federation code/error = %v, want 1", got)
	}
	m = findMetric(t, reg, "savezy_oauth_state_total", map[string]string{"op": "redeem", "outcome": "rejected"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("oauth_state redeem/rejected = %v, want 1", got)
	}
}

func TestRecordUpstreamLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpstreamLatency("token", 150*time.Millisecond)
	c.RecordUpstreamLatency("token", 50*time.Millisecond)

	m := findMetric(t, reg, "savezy_upstream_latency_seconds", map[string]string{"call": "token"})
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", sum)
	}
}
