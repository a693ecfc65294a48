package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchRecorder_RecordReminder(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "Leadflow/Reminders", nil)

	rec.RecordReminder(context.Background(), ResultDelivered)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != "Leadflow/Reminders" {
		t.Errorf("namespace = %q", *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != MetricReminderAttempt {
		t.Errorf("metric name = %q", *datum.MetricName)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("unit = %s", datum.Unit)
	}
	if len(datum.Dimensions) != 1 || *datum.Dimensions[0].Name != DimResult || *datum.Dimensions[0].Value != "delivered" {
		t.Errorf("unexpected dimensions: %+v", datum.Dimensions)
	}
}

func TestCloudWatchRecorder_RecordCycle(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "ns", nil)

	rec.RecordCycle(context.Background(), CycleStats{Duration: 1500 * time.Millisecond, Candidates: 7, LegacyMode: true})

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData
	if len(data) != 3 {
		t.Fatalf("expected 3 datums, got %d", len(data))
	}
	if *data[0].Value != 1500 {
		t.Errorf("duration = %v, want 1500", *data[0].Value)
	}
	if *data[1].Value != 7 {
		t.Errorf("candidates = %v, want 7", *data[1].Value)
	}
	if *data[2].Value != 1 {
		t.Errorf("legacy = %v, want 1", *data[2].Value)
	}
}

func TestCloudWatchRecorder_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	rec := NewCloudWatchRecorder(cw, "ns", nil)

	// Must not panic or block.
	rec.RecordDigest(context.Background(), ResultFailed)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
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
			if matchLabel(m, label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabel(m *dto.Metric, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCollector_RecordReminder(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReminder(context.Background(), ResultDelivered)
	c.RecordReminder(context.Background(), ResultDelivered)
	c.RecordReminder(context.Background(), ResultFailed)

	if got := counterValue(t, reg, "leadflow_reminder_attempts_total", "delivered"); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	if got := counterValue(t, reg, "leadflow_reminder_attempts_total", "failed"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestCollector_RecordCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCycle(context.Background(), CycleStats{Duration: time.Second, Candidates: 3})
	c.RecordCycle(context.Background(), CycleStats{Aborted: true})

	if got := counterValue(t, reg, "leadflow_cycles_total", "success"); got != 1 {
		t.Errorf("success cycles = %v, want 1", got)
	}
	if got := counterValue(t, reg, "leadflow_cycles_total", "aborted"); got != 1 {
		t.Errorf("aborted cycles = %v, want 1", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDigest(context.Background(), ResultDelivered)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "leadflow_digest_attempts_total") {
		t.Errorf("scrape output missing digest counter:\n%s", body)
	}
}
