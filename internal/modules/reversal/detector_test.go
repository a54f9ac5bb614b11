package reversal

import (
	"testing"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestObserve_HealthyFunding_IsNone(t *testing.T) {
	d := New(15)
	alert := d.Observe(0.0005, 0.0001, 30, 0.0003)
	assert.Equal(t, domain.SeverityNone, alert.Severity)
}

func TestObserve_SignFlip_IsCritical(t *testing.T) {
	d := New(15)
	d.Observe(0.0002, 0.0001, 30, 0.0003)
	alert := d.Observe(-0.0001, -0.0001, 28, -0.0002)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
}

func TestObserve_APRCollapseBelowHalfMin_IsCritical(t *testing.T) {
	d := New(20)
	d.Observe(0.0001, 0.0, 25, 0.0003)
	alert := d.Observe(-0.0001, -0.0001, 9, 0.0001)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
}

func TestObserve_AcceleratingNegativeVelocity_IsHigh(t *testing.T) {
	d := New(15)
	alert := d.Observe(-0.0003, -0.0001, 20, 0.0003)
	assert.Equal(t, domain.SeverityHigh, alert.Severity)
}

func TestObserve_APRDropFromPeak_IsHigh(t *testing.T) {
	d := New(15)
	d.Observe(0.0005, 0.0001, 40, 0.0005)
	alert := d.Observe(0.0001, 0.0, 25, 0.0003)
	assert.Equal(t, domain.SeverityHigh, alert.Severity)
}

func TestObserve_SustainedMildNegativeVelocity_IsMedium(t *testing.T) {
	d := New(15)
	d.Observe(-0.00015, 0.0, 20, 0.0003)
	d.Observe(-0.00015, 0.0, 20, 0.0003)
	alert := d.Observe(-0.00015, 0.0, 20, 0.0003)
	assert.Equal(t, domain.SeverityMedium, alert.Severity)
}

func TestObserve_BriefMildNegativeVelocity_IsLow(t *testing.T) {
	d := New(15)
	d.Observe(-0.00005, 0.0, 20, 0.0003)
	alert := d.Observe(-0.00005, 0.0, 20, 0.0003)
	assert.Equal(t, domain.SeverityLow, alert.Severity)
}

func TestObserve_ZeroValueDetector_NeverPanics(t *testing.T) {
	d := New(0)
	assert.NotPanics(t, func() {
		d.Observe(0, 0, 0, 0)
	})
}
