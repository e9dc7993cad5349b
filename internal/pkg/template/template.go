package template

import (
	"encoding/json"
	"fmt"
	"time"

	capi "github.com/hrix/bioenroll/internal/pkg/capture/api"
	"github.com/hrix/bioenroll/internal/pkg/quality"
)

// Field values fixed by the stored template format.
// External verifiers match on these, do not change.
const (
	Header       = "DigitalPersona_Secure"
	Version      = 2
	TemplateType = "BIOMETRIC_SECURE"
	ProcessedBy  = "DigitalPersona Real SDK with Security"

	ModeStableV2     = "stable_v2"
	ModeLegacyV1Hint = "legacy_v1_hint"
)

// Secure is the versioned template structure persisted for one finger.
// The JSON field names are a compatibility contract with existing
// verification code and must be kept byte for byte.
type Secure struct {
	Header         string `json:"Header"`
	Version        int    `json:"Version"`
	TemplateType   string `json:"TemplateType"`
	SecurityLevel  string `json:"SecurityLevel"`
	ProcessedBy    string `json:"ProcessedBy"`
	EnrollmentDate string `json:"EnrollmentDate"`
	DeviceName     string `json:"DeviceName"`
	IsNative       bool   `json:"IsNative"`
	SpecimenNumber int    `json:"SpecimenNumber"`
	AttemptNumber  int    `json:"AttemptNumber"`

	Data             string `json:"Data"`
	DataStable       string `json:"DataStable"`
	TemplateID       string `json:"TemplateId"`
	TemplateIDStable string `json:"TemplateIdStable"`

	EncryptedTemplate string `json:"EncryptedTemplate,omitempty"`
	Nonce             string `json:"Nonce,omitempty"`
	LivenessData      string `json:"LivenessData,omitempty"`

	QualityScore float64 `json:"QualityScore"`
	Clarity      float64 `json:"Clarity"`
	Compression  float64 `json:"Compression"`

	Compatibility Compatibility `json:"Compatibility"`
}

// Compatibility carries hints that let legacy verifiers
// heuristically match templates produced by this format
type Compatibility struct {
	Modes       []string    `json:"Modes"`
	LegacyHints LegacyHints `json:"LegacyHints"`
}

// LegacyHints duplicates selected fields in the legacy v1 shape
type LegacyHints struct {
	EnrollmentDateYMD string `json:"EnrollmentDateYMD"`
	DataLength        int    `json:"DataLength"`
	TemplateIDPrefix8 string `json:"TemplateIdPrefix8"`
}

// Compose builds the secure template for an accepted specimen
func Compose(capture *capi.CaptureOutcome, metrics quality.Metrics, specimenNumber, attemptNumber int, at time.Time) *Secure {
	nowIso := at.UTC().Format(time.RFC3339Nano)
	return &Secure{
		Header:         Header,
		Version:        Version,
		TemplateType:   TemplateType,
		SecurityLevel:  capture.SecurityLevel,
		ProcessedBy:    ProcessedBy,
		EnrollmentDate: nowIso,
		DeviceName:     capture.DeviceName,
		IsNative:       capture.IsNative,
		SpecimenNumber: specimenNumber,
		AttemptNumber:  attemptNumber,

		Data:             capture.CaptureData,
		DataStable:       capture.CaptureData,
		TemplateID:       capture.TemplateID,
		TemplateIDStable: capture.TemplateID,

		EncryptedTemplate: capture.EncryptedTemplate,
		Nonce:             capture.Nonce,
		LivenessData:      capture.LivenessData,

		QualityScore: metrics.OverallScore,
		Clarity:      metrics.Clarity,
		Compression:  metrics.Compression,

		Compatibility: Compatibility{
			Modes: []string{ModeStableV2, ModeLegacyV1Hint},
			LegacyHints: LegacyHints{
				EnrollmentDateYMD: at.UTC().Format("20060102"),
				DataLength:        len(capture.CaptureData),
				TemplateIDPrefix8: prefix8(capture.TemplateID),
			},
		},
	}
}

// Marshal serializes the template into the persisted blob form
func (t *Secure) Marshal() ([]byte, error) {
	res, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("can't marshal template: %w", err)
	}
	return res, nil
}

func prefix8(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
