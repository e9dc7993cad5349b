package api

// Capture outcome statuses reported by the helper
const (
	StatusSuccess  = "success"
	StatusNoFinger = "no_finger"
	StatusFailure  = "failure"
)

// SecurityLevelHardware marks a genuine hardware sourced capture.
// Only captures with this level are eligible for enrollment.
const SecurityLevelHardware = "hardware_biometric"

// CaptureOutcome is the result of a single capture attempt
type CaptureOutcome struct {
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	CaptureData       string `json:"captureData,omitempty"`
	DeviceName        string `json:"deviceName,omitempty"`
	Quality           string `json:"quality,omitempty"`
	IsNative          bool   `json:"isNative,omitempty"`
	IsSimulated       bool   `json:"isSimulated,omitempty"`
	IsFallback        bool   `json:"isFallback,omitempty"`
	SecurityLevel     string `json:"securityLevel,omitempty"`
	TemplateID        string `json:"templateId,omitempty"`
	EncryptedTemplate string `json:"encryptedTemplate,omitempty"`
	Nonce             string `json:"nonce,omitempty"`
	LivenessData      string `json:"livenessData,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
}

// EnrollOutcome is the result of a full helper driven enrollment,
// the helper runs its own 3-sample capture and quality control
type EnrollOutcome struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	TemplateBase64 string `json:"templateBase64,omitempty"`
	TemplateSize   int    `json:"templateSize,omitempty"`
	DetectedFinger *int   `json:"detectedFinger,omitempty"`
	FingerID       int    `json:"fingerId,omitempty"`
	Method         string `json:"method,omitempty"`
}

// DeviceInfo describes an attached reader
type DeviceInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Vendor       string `json:"vendor"`
	SerialNumber string `json:"serialNumber"`
	Connected    bool   `json:"connected"`
}
