// Package storage routes weight readings to persistence backends. Every
// reading is classified, then written to its class's primary backend with
// automatic failover to the configured fallbacks.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for routing and validation.
var (
	ErrInvalidReading    = errors.New("storage: invalid reading")
	ErrNoPolicy          = errors.New("storage: no policy for classification")
	ErrNoEligibleBackend = errors.New("storage: no eligible backend")
	ErrAllBackendsFailed = errors.New("storage: all backends failed")
	ErrUnknownBackend    = errors.New("storage: unknown backend")
)

// Quality grades a reading. Anything other than Good must explain itself
// through Status or a metadata error entry.
type Quality string

const (
	QualityGood               Quality = "good"
	QualityUncertain          Quality = "uncertain"
	QualityBad                Quality = "bad"
	QualityConfigurationError Quality = "configuration_error"
	QualityDeviceFailure      Quality = "device_failure"
	QualityTimeout            Quality = "timeout"
	QualityOverflow           Quality = "overflow"
)

func (q Quality) String() string { return string(q) }

// Valid reports whether q is a known quality grade.
func (q Quality) Valid() bool {
	switch q {
	case QualityGood, QualityUncertain, QualityBad, QualityConfigurationError,
		QualityDeviceFailure, QualityTimeout, QualityOverflow:
		return true
	}
	return false
}

// Reading is one measurement received from a device.
type Reading struct {
	ID         string            `json:"id" gorm:"primaryKey;size:36"`
	DeviceID   string            `json:"device_id" gorm:"index;size:128"`
	DeviceType string            `json:"device_type" gorm:"size:128"`
	DataType   string            `json:"data_type" gorm:"size:64"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit" gorm:"size:16"`
	Status     string            `json:"status,omitempty" gorm:"size:64"`
	Quality    Quality           `json:"quality" gorm:"size:32"`
	Timestamp  time.Time         `json:"timestamp" gorm:"index"`
	ReceivedAt time.Time         `json:"received_at"`
	SessionID  string            `json:"session_id,omitempty" gorm:"size:36"`
	Metadata   map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
}

// NewReading builds a reading with an assigned ID and receive timestamp.
func NewReading(deviceID, deviceType string, value float64, unit string) *Reading {
	now := time.Now().UTC()
	return &Reading{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Value:      value,
		Unit:       unit,
		Quality:    QualityGood,
		Timestamp:  now,
		ReceivedAt: now,
	}
}

// Validate enforces the reading invariants. A non-Good quality must carry a
// status or a metadata "error" entry explaining it.
func (r *Reading) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidReading)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalidReading)
	}
	if !r.Quality.Valid() {
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidReading, r.Quality)
	}
	if r.Quality != QualityGood && r.Status == "" && r.Metadata["error"] == "" {
		return fmt.Errorf("%w: quality %s without status or error metadata",
			ErrInvalidReading, r.Quality)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	return nil
}

// Classification selects the storage treatment of a reading.
type Classification string

const (
	// ClassDiscrete is a one-off weighing result, stored relationally.
	ClassDiscrete Classification = "discrete_reading"

	// ClassTimeSeries is continuous sensor output, stored in the
	// time-series backend.
	ClassTimeSeries Classification = "time_series"

	// ClassConfiguration is device configuration data.
	ClassConfiguration Classification = "configuration"
)

func (c Classification) String() string { return string(c) }

// Classify buckets a reading by its device and data type. Rules apply
// first-match: scale-type devices produce discrete readings, 6051-family
// I/O modules produce time series, configuration payloads go to the
// configuration class, and everything else defaults to time series.
func Classify(r *Reading) Classification {
	deviceType := strings.ToLower(r.DeviceType)
	switch {
	case strings.Contains(deviceType, "scale"):
		return ClassDiscrete
	case strings.Contains(deviceType, "6051"):
		return ClassTimeSeries
	case strings.EqualFold(r.DataType, "configuration"):
		return ClassConfiguration
	default:
		return ClassTimeSeries
	}
}
