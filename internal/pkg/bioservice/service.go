package bioservice

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/pkg/errors"

	"github.com/airenas/go-app/pkg/goapp"
	capi "github.com/hrix/bioenroll/internal/pkg/capture/api"
	"github.com/hrix/bioenroll/internal/pkg/enrollment"
	"github.com/hrix/bioenroll/internal/pkg/persistence"
	"github.com/hrix/bioenroll/internal/pkg/session"
	"github.com/hrix/bioenroll/internal/pkg/status"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Enroller runs enrollment workflows
type Enroller interface {
	CheckAvailability(ctx context.Context, userID, fingerID int) (*enrollment.Availability, error)
	Start(ctx context.Context, userID, fingerID int, name string) (string, error)
	Save(ctx context.Context, enrollmentID string, userID, fingerID int, name, templateBase64 string) (string, error)
}

// Capturer provides direct access to the biometric reader
type Capturer interface {
	Initialize(ctx context.Context) error
	Devices(ctx context.Context) ([]capi.DeviceInfo, error)
	Capture(ctx context.Context) (*capi.CaptureOutcome, error)
	Cleanup(ctx context.Context)
}

// DB provides template persistence
type DB interface {
	ListTemplates(ctx context.Context, userID int) ([]persistence.TemplateInfo, error)
	DeleteTemplate(ctx context.Context, userID, fingerID int) (int64, error)
}

// Data keeps data required for service work
type Data struct {
	Port       int
	Enroller   Enroller
	Capturer   Capturer
	DB         DB
	Sessions   session.Store
	AuthSecret string
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP bioenroll service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Enroller == nil {
		return errors.New("no enroller")
	}
	if data.Capturer == nil {
		return errors.New("no capturer")
	}
	if data.DB == nil {
		return errors.New("no DB")
	}
	if data.Sessions == nil {
		return errors.New("no session store")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("bioenroll", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(authMdlw(data.AuthSecret))
	promMdlw.Use(e)

	e.GET("/live", live(data))
	e.GET("/health", health(data))
	e.GET("/check-finger/:userId/:fingerId", checkFinger(data))
	e.POST("/capture-fingerprint", captureFingerprint(data))
	e.POST("/enroll-finger", enrollFinger(data))
	e.POST("/save-enrollment", saveEnrollment(data))
	e.GET("/enrollment-progress/:enrollmentId", enrollmentProgress(data))
	e.GET("/enrollment-status/:userId", enrollmentStatus(data))
	e.DELETE("/delete-finger/:userId/:fingerId", deleteFinger(data))
	e.GET("/subscribe", subscribeHandler(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type healthResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	SdkReady   bool             `json:"sdkReady"`
	DeviceInfo *capi.DeviceInfo `json:"deviceInfo"`
	Timestamp  string           `json:"timestamp"`
}

func health(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("health method")()
		ctx := c.Request().Context()

		res := healthResult{Success: true, Message: "Bio enrollment system is available",
			Timestamp: time.Now().Format(time.RFC3339)}
		if err := data.Capturer.Initialize(ctx); err != nil {
			goapp.Log.Warn().Err(err).Msg("SDK initialization failed")
			return c.JSON(http.StatusOK, res)
		}
		res.SdkReady = true
		devices, err := data.Capturer.Devices(ctx)
		if err != nil {
			goapp.Log.Warn().Err(err).Msg("device query failed")
		} else if len(devices) > 0 {
			res.DeviceInfo = normalizeDevice(devices[0])
		}
		data.Capturer.Cleanup(ctx)
		return c.JSON(http.StatusOK, res)
	}
}

func normalizeDevice(d capi.DeviceInfo) *capi.DeviceInfo {
	if d.Name == "" {
		d.Name = "DigitalPersona Reader"
	}
	if d.Model == "" {
		d.Model = "U.are.U Reader"
	}
	if d.Vendor == "" {
		d.Vendor = "DigitalPersona"
	}
	if d.SerialNumber == "" {
		d.SerialNumber = "Unknown"
	}
	return &d
}

type availabilityResult struct {
	Success          bool   `json:"success"`
	Available        bool   `json:"available"`
	Message          string `json:"message"`
	ExistingTemplate bool   `json:"existingTemplate"`
	HasValidData     bool   `json:"hasValidData"`
}

func checkFinger(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("checkFinger method")()

		userID, fingerID, err := pathIDs(c)
		if err != nil {
			return err
		}
		av, err := data.Enroller.CheckAvailability(c.Request().Context(), userID, fingerID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check finger availability")
		}
		return c.JSON(http.StatusOK, availabilityResult{Success: true, Available: av.Available,
			Message: av.Message, ExistingTemplate: av.ExistingTemplate, HasValidData: av.HasValidData})
	}
}

type captureResult struct {
	Success         bool                 `json:"success"`
	Message         string               `json:"message"`
	FingerprintData *capi.CaptureOutcome `json:"fingerprintData,omitempty"`
}

func captureFingerprint(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("captureFingerprint method")()
		ctx := c.Request().Context()

		if err := data.Capturer.Initialize(ctx); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to initialize capture device")
		}
		defer data.Capturer.Cleanup(ctx)
		res, err := data.Capturer.Capture(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Fingerprint capture failed")
		}
		if res.Status != capi.StatusSuccess {
			return echo.NewHTTPError(http.StatusInternalServerError,
				fmt.Sprintf("Fingerprint capture failed: %s", res.Status))
		}
		return c.JSON(http.StatusOK, captureResult{Success: true,
			Message: "Fingerprint captured successfully", FingerprintData: res})
	}
}

type enrollRequest struct {
	UserID   int    `json:"userId"`
	FingerID *int   `json:"fingerId"`
	Name     string `json:"name"`
}

type enrollResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	EnrollmentID string `json:"enrollmentId"`
	UserID       int    `json:"userId"`
	FingerID     int    `json:"fingerId"`
}

func enrollFinger(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("enrollFinger method")()

		var req enrollRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong request")
		}
		if req.UserID == 0 || req.FingerID == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "User ID and Finger ID are required")
		}
		id, err := data.Enroller.Start(c.Request().Context(), req.UserID, *req.FingerID, req.Name)
		if err != nil {
			return mapEnrollErr(err)
		}
		return c.JSON(http.StatusOK, enrollResult{Success: true, Message: "Enrollment started",
			EnrollmentID: id, UserID: req.UserID, FingerID: *req.FingerID})
	}
}

func mapEnrollErr(err error) error {
	var enrolledErr *enrollment.AlreadyEnrolledError
	if errors.As(err, &enrolledErr) {
		return echo.NewHTTPError(http.StatusBadRequest, enrolledErr.Av.Message)
	}
	if errors.Is(err, enrollment.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	goapp.Log.Error().Err(err).Send()
	return echo.NewHTTPError(http.StatusInternalServerError)
}

type saveRequest struct {
	EnrollmentID   string `json:"enrollmentId"`
	UserID         int    `json:"userId"`
	FingerID       *int   `json:"fingerId"`
	Name           string `json:"name"`
	TemplateBase64 string `json:"templateBase64"`
}

type saveResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	FUID      string `json:"fuid"`
	UserID    int    `json:"userId"`
	FingerID  int    `json:"fingerId"`
	Name      string `json:"name,omitempty"`
	Timestamp string `json:"timestamp"`
}

func saveEnrollment(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("saveEnrollment method")()

		var req saveRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong request")
		}
		if req.FingerID == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "User ID, Finger ID, and template data are required")
		}
		fuid, err := data.Enroller.Save(c.Request().Context(), req.EnrollmentID, req.UserID,
			*req.FingerID, req.Name, req.TemplateBase64)
		if err != nil {
			if errors.Is(err, enrollment.ErrInvalidInput) {
				return echo.NewHTTPError(http.StatusBadRequest, "User ID, Finger ID, and template data are required")
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save fingerprint to database")
		}
		return c.JSON(http.StatusOK, saveResult{Success: true, Message: "Fingerprint saved successfully",
			FUID: fuid, UserID: req.UserID, FingerID: *req.FingerID, Name: req.Name,
			Timestamp: time.Now().Format(time.RFC3339)})
	}
}

type progressResult struct {
	Success         bool      `json:"success"`
	EnrollmentID    string    `json:"enrollmentId"`
	UserID          int       `json:"userId"`
	FingerID        int       `json:"fingerId"`
	DetectedFinger  *int      `json:"detectedFinger,omitempty"`
	RequestedFinger int       `json:"requestedFinger"`
	UserName        string    `json:"userName"`
	Status          string    `json:"status"`
	CurrentSpecimen int       `json:"currentSpecimen"`
	TotalSpecimens  int       `json:"totalSpecimens"`
	QualityScores   []float64 `json:"qualityScores"`
	TemplateSize    int       `json:"templateSize,omitempty"`
	TemplateBase64  string    `json:"templateBase64,omitempty"`
	LastUpdate      time.Time `json:"lastUpdate"`
	Error           string    `json:"error,omitempty"`
	Message         string    `json:"message"`
}

func mapSession(ses *session.Session) *progressResult {
	return &progressResult{Success: true,
		EnrollmentID:    ses.EnrollmentID,
		UserID:          ses.UserID,
		FingerID:        ses.FingerID,
		DetectedFinger:  ses.DetectedFinger,
		RequestedFinger: ses.RequestedFinger,
		UserName:        ses.UserName,
		Status:          ses.Status,
		CurrentSpecimen: ses.CurrentSpecimen,
		TotalSpecimens:  ses.TotalSpecimens,
		QualityScores:   ses.QualityScores,
		TemplateSize:    ses.TemplateSize,
		TemplateBase64:  ses.TemplateBase64,
		LastUpdate:      ses.LastUpdate,
		Error:           ses.Error,
		Message:         status.Message(ses.Status, ses.CurrentSpecimen),
	}
}

func enrollmentProgress(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("enrollmentProgress method")()

		id := c.Param("enrollmentId")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No enrollment ID")
		}
		ses := data.Sessions.Get(id)
		if ses == nil {
			return echo.NewHTTPError(http.StatusNotFound, "Enrollment not found")
		}
		return c.JSON(http.StatusOK, mapSession(ses))
	}
}

type enrolledFinger struct {
	FUID         string    `json:"fuid"`
	FingerID     int       `json:"fingerId"`
	Name         string    `json:"name"`
	TemplateSize int       `json:"templateSize"`
	ImageSize    int       `json:"imageSize"`
	CreatedDate  time.Time `json:"createdDate"`
}

type statusResult struct {
	Success         bool             `json:"success"`
	UserID          int              `json:"userId"`
	EnrolledFingers []enrolledFinger `json:"enrolledFingers"`
	TotalEnrolled   int              `json:"totalEnrolled"`
}

func enrollmentStatus(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("enrollmentStatus method")()

		userID, err := pathInt(c, "userId")
		if err != nil {
			return err
		}
		items, err := data.DB.ListTemplates(c.Request().Context(), userID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load enrollment status")
		}
		res := statusResult{Success: true, UserID: userID, EnrolledFingers: []enrolledFinger{}}
		for _, it := range items {
			res.EnrolledFingers = append(res.EnrolledFingers, enrolledFinger{FUID: it.FUID,
				FingerID: it.FingerID, Name: it.Name, TemplateSize: it.TemplateSize,
				ImageSize: it.ImageSize, CreatedDate: it.Created})
		}
		res.TotalEnrolled = len(res.EnrolledFingers)
		return c.JSON(http.StatusOK, res)
	}
}

type deleteResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RowsAffected int64  `json:"rowsAffected"`
}

func deleteFinger(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("deleteFinger method")()

		userID, fingerID, err := pathIDs(c)
		if err != nil {
			return err
		}
		affected, err := data.DB.DeleteTemplate(c.Request().Context(), userID, fingerID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete finger")
		}
		return c.JSON(http.StatusOK, deleteResult{Success: true,
			Message: fmt.Sprintf("Finger %d deleted for user %d", fingerID, userID), RowsAffected: affected})
	}
}

func pathIDs(c echo.Context) (int, int, error) {
	userID, err := pathInt(c, "userId")
	if err != nil {
		return 0, 0, err
	}
	fingerID, err := pathInt(c, "fingerId")
	if err != nil {
		return 0, 0, err
	}
	return userID, fingerID, nil
}

func pathInt(c echo.Context, name string) (int, error) {
	res, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("wrong %s", name))
	}
	return res, nil
}
