package enrollment

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	capi "github.com/hrix/bioenroll/internal/pkg/capture/api"
	"github.com/hrix/bioenroll/internal/pkg/persistence"
	"github.com/hrix/bioenroll/internal/pkg/quality"
	"github.com/hrix/bioenroll/internal/pkg/session"
	"github.com/hrix/bioenroll/internal/pkg/status"
	"github.com/hrix/bioenroll/internal/pkg/template"
)

// Enrollment strategies
const (
	// StrategyGUI delegates the whole 3-sample flow to the native helper
	StrategyGUI = "gui"
	// StrategyManual drives the capture loop and quality gate itself
	StrategyManual = "manual"
)

const (
	requiredSpecimens   = 3
	maxAttempts         = 5
	minQualityScore     = 70
	minCompressionScore = 70
	// the helper enforces its own quality internally on the GUI path
	guiQualityScore = 95
)

// Capturer provides access to the biometric reader
type Capturer interface {
	Initialize(ctx context.Context) error
	Capture(ctx context.Context) (*capi.CaptureOutcome, error)
	Enroll(ctx context.Context, userID, fingerID int, name string) (*capi.EnrollOutcome, error)
	Cleanup(ctx context.Context)
}

// DB provides persistence functionality
type DB interface {
	LoadTemplateInfo(ctx context.Context, userID, fingerID int) (*persistence.TemplateInfo, error)
	InsertTemplate(ctx context.Context, t *persistence.Template) error
	LoadUserName(ctx context.Context, userID int) (string, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	DB       DB
	Capturer Capturer
	Sessions session.Store

	Strategy             string
	RejectFingerMismatch bool
	RetryWait            time.Duration
	SpecimenWait         time.Duration
	Retention            time.Duration
}

// Service runs enrollment sessions
type Service struct {
	data *ServiceData
	// the reader is a single exclusive resource, capture flows are serialized
	deviceLock sync.Mutex
}

// ErrInvalidInput marks a client side input problem
var ErrInvalidInput = errors.New("invalid input")

// AlreadyEnrolledError is returned when the finger slot holds a valid template
type AlreadyEnrolledError struct {
	Av *Availability
}

func (e *AlreadyEnrolledError) Error() string {
	return e.Av.Message
}

// Availability describes the enrollment pre-check result
type Availability struct {
	Available        bool
	Message          string
	ExistingTemplate bool
	HasValidData     bool
	FUID             string
	Created          time.Time
}

// NewService creates the enrollment orchestrator
func NewService(data *ServiceData) (*Service, error) {
	if data.DB == nil {
		return nil, errors.New("no DB")
	}
	if data.Capturer == nil {
		return nil, errors.New("no capturer")
	}
	if data.Sessions == nil {
		return nil, errors.New("no session store")
	}
	if data.Strategy == "" {
		data.Strategy = StrategyGUI
	}
	if data.Strategy != StrategyGUI && data.Strategy != StrategyManual {
		return nil, errors.Errorf("unknown strategy '%s'", data.Strategy)
	}
	if data.RetryWait == 0 {
		data.RetryWait = time.Second * 2
	}
	if data.SpecimenWait == 0 {
		data.SpecimenWait = time.Second * 3
	}
	if data.Retention == 0 {
		data.Retention = time.Minute * 5
	}
	return &Service{data: data}, nil
}

// CheckAvailability verifies the finger slot is free for enrollment.
// A row with an empty template counts as available.
func (s *Service) CheckAvailability(ctx context.Context, userID, fingerID int) (*Availability, error) {
	info, err := s.data.DB.LoadTemplateInfo(ctx, userID, fingerID)
	if err != nil {
		return nil, fmt.Errorf("can't load template info: %w", err)
	}
	if info == nil {
		return &Availability{Available: true,
			Message: fmt.Sprintf("Finger %d is available for enrollment", fingerID)}, nil
	}
	if info.HasValidTemplate() {
		return &Availability{Available: false,
			Message:          fmt.Sprintf("Finger %d is already enrolled for this user", fingerID),
			ExistingTemplate: true, HasValidData: true,
			FUID: info.FUID, Created: info.Created}, nil
	}
	return &Availability{Available: true,
		Message:          fmt.Sprintf("Finger %d exists but has no valid template data", fingerID),
		ExistingTemplate: true}, nil
}

// Start validates the request, creates the session and launches the
// capture workflow in the background. Returns the enrollment ID right
// away, the caller polls progress separately.
func (s *Service) Start(ctx context.Context, userID, fingerID int, name string) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("no userID: %w", ErrInvalidInput)
	}
	if fingerID < 0 || fingerID > 9 {
		return "", fmt.Errorf("fingerID out of range [0, 9]: %w", ErrInvalidInput)
	}
	if name == "" {
		var err error
		if name, err = s.data.DB.LoadUserName(ctx, userID); err != nil {
			return "", err
		}
		if name == "" {
			name = fmt.Sprintf("User_%d", userID)
		}
	}
	av, err := s.CheckAvailability(ctx, userID, fingerID)
	if err != nil {
		return "", err
	}
	if !av.Available {
		return "", &AlreadyEnrolledError{Av: av}
	}

	id := uuid.New().String()
	now := time.Now()
	s.data.Sessions.Set(&session.Session{
		EnrollmentID:    id,
		UserID:          userID,
		FingerID:        fingerID,
		UserName:        name,
		Status:          status.Initializing,
		TotalSpecimens:  requiredSpecimens,
		RequestedFinger: fingerID,
		QualityScores:   []float64{},
		StartTime:       now,
		LastUpdate:      now,
	})
	goapp.Log.Info().Str("ID", id).Int("userID", userID).Int("fingerID", fingerID).
		Str("strategy", s.data.Strategy).Msg("enrollment started")

	// the request returns now, the workflow continues detached
	go s.process(context.Background(), id, userID, fingerID, name)
	return id, nil
}

func (s *Service) process(ctx context.Context, id string, userID, fingerID int, name string) {
	s.deviceLock.Lock()
	defer s.deviceLock.Unlock()

	var err error
	if s.data.Strategy == StrategyManual {
		err = s.processManual(ctx, id)
	} else {
		err = s.processGUI(ctx, id, userID, fingerID, name)
	}
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Msg("enrollment failed")
		s.update(id, func(ses *session.Session) {
			ses.Status = status.Error
			ses.Error = err.Error()
		})
	}
	s.data.Sessions.DeleteAfter(id, s.data.Retention)
}

// processGUI lets the helper run its own multi-sample enrollment flow
func (s *Service) processGUI(ctx context.Context, id string, userID, fingerID int, name string) error {
	s.update(id, func(ses *session.Session) { ses.Status = status.Capturing })

	res, err := s.data.Capturer.Enroll(ctx, userID, fingerID, name)
	if err != nil {
		return err
	}
	detected := fingerID
	if res.DetectedFinger != nil {
		detected = *res.DetectedFinger
	}
	if s.data.RejectFingerMismatch && detected != fingerID {
		return fmt.Errorf("detected finger %d does not match requested finger %d", detected, fingerID)
	}
	size := res.TemplateSize
	if size == 0 {
		if raw, err := base64.StdEncoding.DecodeString(res.TemplateBase64); err == nil {
			size = len(raw)
		}
	}
	s.update(id, func(ses *session.Session) {
		ses.Status = status.Complete
		ses.TemplateBase64 = res.TemplateBase64
		ses.TemplateSize = size
		ses.FingerID = detected
		ses.DetectedFinger = &detected
		ses.CurrentSpecimen = requiredSpecimens
		ses.QualityScores = []float64{guiQualityScore, guiQualityScore, guiQualityScore}
	})
	goapp.Log.Info().Str("ID", id).Int("templateSize", size).
		Int("detectedFinger", detected).Int("requestedFinger", fingerID).Msg("enrollment completed")
	return nil
}

// processManual drives the 3-specimen capture loop with the local quality gate
func (s *Service) processManual(ctx context.Context, id string) error {
	if err := s.data.Capturer.Initialize(ctx); err != nil {
		return fmt.Errorf("can't init capture device: %w", err)
	}
	defer s.data.Capturer.Cleanup(ctx)

	var specimens []session.Specimen
	for i := 0; i < requiredSpecimens; i++ {
		no := i + 1
		s.update(id, func(ses *session.Session) {
			ses.CurrentSpecimen = no
			ses.Status = status.CapturingAttempt(no)
		})
		sp, err := s.captureSpecimen(ctx, id, no)
		if err != nil {
			return err
		}
		specimens = append(specimens, *sp)
		s.update(id, func(ses *session.Session) {
			ses.Specimens = append(ses.Specimens, *sp)
			ses.QualityScores = append(ses.QualityScores, sp.QualityScore)
			ses.Status = status.SpecimenCaptured(no)
		})
		if no < requiredSpecimens {
			// throttle to avoid repeat-capture artifacts from the same placement
			if err := wait(ctx, s.data.SpecimenWait); err != nil {
				return err
			}
		}
	}

	// best specimen wins, no averaging or fusion
	sort.SliceStable(specimens, func(i, j int) bool {
		return specimens[i].QualityScore > specimens[j].QualityScore
	})
	best := specimens[0]
	goapp.Log.Info().Str("ID", id).Int("specimen", best.SpecimenNumber).
		Float64("quality", best.QualityScore).Msg("best specimen selected")

	s.update(id, func(ses *session.Session) {
		ses.Status = status.Complete
		ses.CurrentSpecimen = requiredSpecimens
		ses.TemplateBase64 = base64.StdEncoding.EncodeToString(best.Template)
		ses.TemplateSize = len(best.Template)
	})
	return nil
}

// captureSpecimen tries to capture one acceptable specimen within the attempt budget
func (s *Service) captureSpecimen(ctx context.Context, id string, no int) (*session.Specimen, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sp, ok := s.tryCapture(ctx, id, no, attempt)
		if ok {
			return sp, nil
		}
		if attempt < maxAttempts {
			if err := wait(ctx, s.data.RetryWait); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to capture specimen %d after %d attempts, "+
		"ensure good finger placement and pressure", no, maxAttempts)
}

func (s *Service) tryCapture(ctx context.Context, id string, no, attempt int) (*session.Specimen, bool) {
	lg := goapp.Log.With().Str("ID", id).Int("specimen", no).Int("attempt", attempt).Logger()

	res, err := s.data.Capturer.Capture(ctx)
	if err != nil {
		lg.Warn().Err(err).Msg("capture attempt failed")
		return nil, false
	}
	if res.Status == capi.StatusNoFinger {
		lg.Warn().Msg("no finger detected on scanner")
		return nil, false
	}
	if res.Status != capi.StatusSuccess {
		lg.Warn().Str("status", res.Status).Str("message", res.Message).Msg("capture not successful")
		return nil, false
	}
	if res.IsSimulated || res.IsFallback || res.SecurityLevel != capi.SecurityLevelHardware {
		lg.Warn().Str("securityLevel", res.SecurityLevel).Msg("insufficient security level for enrollment")
		return nil, false
	}
	if res.CaptureData == "" {
		lg.Warn().Msg("no fingerprint data in capture result")
		return nil, false
	}

	metrics := quality.Score([]byte(res.CaptureData), res.Quality)
	if metrics.OverallScore < minQualityScore {
		lg.Info().Float64("score", metrics.OverallScore).Msgf("overall quality below %d", minQualityScore)
		return nil, false
	}
	if metrics.Compression < minCompressionScore {
		lg.Info().Float64("compression", metrics.Compression).Msgf("compression below %d", minCompressionScore)
		return nil, false
	}

	blob, err := template.Compose(res, metrics, no, attempt, time.Now()).Marshal()
	if err != nil {
		lg.Error().Err(err).Msg("can't compose template")
		return nil, false
	}
	lg.Info().Float64("score", metrics.OverallScore).Msg("specimen accepted")
	return &session.Specimen{
		Template:       blob,
		QualityScore:   metrics.OverallScore,
		SpecimenNumber: no,
		AttemptNumber:  attempt,
		CapturedAt:     time.Now(),
	}, true
}

// Save commits a completed enrollment. The template comes either from the
// referenced session or directly from the request payload.
func (s *Service) Save(ctx context.Context, enrollmentID string, userID, fingerID int, name, templateBase64 string) (string, error) {
	if enrollmentID != "" {
		if ses := s.data.Sessions.Get(enrollmentID); ses != nil && ses.TemplateBase64 != "" {
			templateBase64 = ses.TemplateBase64
			if name == "" {
				name = ses.UserName
			}
		}
	}
	if userID <= 0 {
		return "", fmt.Errorf("no userID: %w", ErrInvalidInput)
	}
	if fingerID < 0 || fingerID > 9 {
		return "", fmt.Errorf("fingerID out of range [0, 9]: %w", ErrInvalidInput)
	}
	if templateBase64 == "" {
		return "", fmt.Errorf("no template data: %w", ErrInvalidInput)
	}
	blob, err := base64.StdEncoding.DecodeString(templateBase64)
	if err != nil {
		return "", fmt.Errorf("can't decode template: %w", ErrInvalidInput)
	}

	fuid := uuid.New().String()
	if err := s.data.DB.InsertTemplate(ctx, &persistence.Template{
		FUID: fuid, UserID: userID, FingerID: fingerID, Name: name, Template: blob,
	}); err != nil {
		return "", fmt.Errorf("can't save template: %w", err)
	}
	if enrollmentID != "" {
		s.data.Sessions.Delete(enrollmentID)
	}
	goapp.Log.Info().Str("fuid", fuid).Int("userID", userID).Int("fingerID", fingerID).
		Int("size", len(blob)).Msg("template saved")
	return fuid, nil
}

func (s *Service) update(id string, f func(ses *session.Session)) {
	ses := s.data.Sessions.Get(id)
	if ses == nil {
		return
	}
	f(ses)
	ses.LastUpdate = time.Now()
	s.data.Sessions.Set(ses)
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
