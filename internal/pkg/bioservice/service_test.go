package bioservice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	capi "github.com/hrix/bioenroll/internal/pkg/capture/api"
	"github.com/hrix/bioenroll/internal/pkg/enrollment"
	"github.com/hrix/bioenroll/internal/pkg/persistence"
	"github.com/hrix/bioenroll/internal/pkg/session"
	"github.com/hrix/bioenroll/internal/pkg/status"
	"github.com/hrix/bioenroll/internal/pkg/test"
	"github.com/hrix/bioenroll/internal/pkg/test/mocks"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	enrollerMock *mockEnroller
	capturerMock *mocks.Capturer
	dbMock       *mocks.DB
	store        *session.MemStore
	tData        *Data
	tEcho        *echo.Echo
)

func initTest(t *testing.T) {
	t.Helper()
	enrollerMock = &mockEnroller{}
	capturerMock = &mocks.Capturer{}
	dbMock = &mocks.DB{}
	store = session.NewMemStore()
	tData = &Data{Enroller: enrollerMock, Capturer: capturerMock, DB: dbMock, Sessions: store}
	tEcho = initRoutes(tData)
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	test.Code(t, tEcho, req, http.StatusMethodNotAllowed)
}

func TestLive(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusOK)
}

func TestHealth(t *testing.T) {
	initTest(t)
	capturerMock.On("Initialize", mock.Anything).Return(nil)
	capturerMock.On("Devices", mock.Anything).Return([]capi.DeviceInfo{{Name: "U.are.U Reader", Connected: true}}, nil)
	capturerMock.On("Cleanup", mock.Anything).Return()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[healthResult](t, resp.Result())
	assert.True(t, res.Success)
	assert.True(t, res.SdkReady)
	require.NotNil(t, res.DeviceInfo)
	assert.Equal(t, "U.are.U Reader", res.DeviceInfo.Name)
	assert.Equal(t, "DigitalPersona", res.DeviceInfo.Vendor)
}

func TestHealth_SDKDown(t *testing.T) {
	initTest(t)
	capturerMock.On("Initialize", mock.Anything).Return(fmt.Errorf("no SDK"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[healthResult](t, resp.Result())
	assert.True(t, res.Success)
	assert.False(t, res.SdkReady)
	assert.Nil(t, res.DeviceInfo)
}

func TestCheckFinger(t *testing.T) {
	initTest(t)
	enrollerMock.On("CheckAvailability", mock.Anything, 42, 3).Return(
		&enrollment.Availability{Available: true, Message: "Finger 3 is available for enrollment"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[availabilityResult](t, resp.Result())
	assert.True(t, res.Available)
	assert.Equal(t, "Finger 3 is available for enrollment", res.Message)
}

func TestCheckFinger_WrongParams(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/check-finger/olia/3", nil)
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func TestCheckFinger_Fails(t *testing.T) {
	initTest(t)
	enrollerMock.On("CheckAvailability", mock.Anything, 42, 3).Return(nil, fmt.Errorf("db down"))
	req := httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func TestCapture(t *testing.T) {
	initTest(t)
	capturerMock.On("Initialize", mock.Anything).Return(nil)
	capturerMock.On("Capture", mock.Anything).Return(&capi.CaptureOutcome{Status: capi.StatusSuccess,
		CaptureData: "abc", Quality: "good"}, nil)
	capturerMock.On("Cleanup", mock.Anything).Return()

	req := httptest.NewRequest(http.MethodPost, "/capture-fingerprint", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[captureResult](t, resp.Result())
	assert.True(t, res.Success)
	require.NotNil(t, res.FingerprintData)
	assert.Equal(t, "abc", res.FingerprintData.CaptureData)
}

func TestCapture_NoFinger(t *testing.T) {
	initTest(t)
	capturerMock.On("Initialize", mock.Anything).Return(nil)
	capturerMock.On("Capture", mock.Anything).Return(&capi.CaptureOutcome{Status: capi.StatusNoFinger}, nil)
	capturerMock.On("Cleanup", mock.Anything).Return()

	req := httptest.NewRequest(http.MethodPost, "/capture-fingerprint", nil)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func TestEnroll(t *testing.T) {
	initTest(t)
	enrollerMock.On("Start", mock.Anything, 42, 3, "Jo").Return("enr-1", nil)

	req := jsonReq(t, http.MethodPost, "/enroll-finger", `{"userId":42,"fingerId":3,"name":"Jo"}`)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[enrollResult](t, resp.Result())
	assert.True(t, res.Success)
	assert.Equal(t, "enr-1", res.EnrollmentID)
	assert.Equal(t, 3, res.FingerID)
}

func TestEnroll_FingerZeroAllowed(t *testing.T) {
	initTest(t)
	enrollerMock.On("Start", mock.Anything, 42, 0, "").Return("enr-1", nil)

	req := jsonReq(t, http.MethodPost, "/enroll-finger", `{"userId":42,"fingerId":0}`)
	test.Code(t, tEcho, req, http.StatusOK)
}

func TestEnroll_MissingParams(t *testing.T) {
	initTest(t)
	req := jsonReq(t, http.MethodPost, "/enroll-finger", `{"userId":42}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
	req = jsonReq(t, http.MethodPost, "/enroll-finger", `{"fingerId":3}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
	enrollerMock.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnroll_AlreadyEnrolled(t *testing.T) {
	initTest(t)
	enrollerMock.On("Start", mock.Anything, 42, 3, "").Return("",
		&enrollment.AlreadyEnrolledError{Av: &enrollment.Availability{
			Message: "Finger 3 is already enrolled for this user", ExistingTemplate: true, HasValidData: true}})

	req := jsonReq(t, http.MethodPost, "/enroll-finger", `{"userId":42,"fingerId":3}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func TestEnroll_Fails(t *testing.T) {
	initTest(t)
	enrollerMock.On("Start", mock.Anything, 42, 3, "").Return("", fmt.Errorf("db down"))
	req := jsonReq(t, http.MethodPost, "/enroll-finger", `{"userId":42,"fingerId":3}`)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func TestSave(t *testing.T) {
	initTest(t)
	enrollerMock.On("Save", mock.Anything, "enr-1", 42, 3, "", "").Return("fuid-1", nil)

	req := jsonReq(t, http.MethodPost, "/save-enrollment", `{"enrollmentId":"enr-1","userId":42,"fingerId":3}`)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[saveResult](t, resp.Result())
	assert.True(t, res.Success)
	assert.Equal(t, "fuid-1", res.FUID)
}

func TestSave_Invalid(t *testing.T) {
	initTest(t)
	enrollerMock.On("Save", mock.Anything, "", 42, 3, "", "").Return("",
		fmt.Errorf("no template data: %w", enrollment.ErrInvalidInput))
	req := jsonReq(t, http.MethodPost, "/save-enrollment", `{"userId":42,"fingerId":3}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func TestSave_DBFails(t *testing.T) {
	initTest(t)
	enrollerMock.On("Save", mock.Anything, "", 42, 3, "", "dGVtcGxhdGU=").Return("", fmt.Errorf("db down"))
	req := jsonReq(t, http.MethodPost, "/save-enrollment", `{"userId":42,"fingerId":3,"templateBase64":"dGVtcGxhdGU="}`)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func TestProgress(t *testing.T) {
	initTest(t)
	store.Set(&session.Session{EnrollmentID: "enr-1", UserID: 42, FingerID: 3,
		Status: status.Initializing, TotalSpecimens: 3, QualityScores: []float64{},
		LastUpdate: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/enrollment-progress/enr-1", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[progressResult](t, resp.Result())
	assert.Equal(t, "enr-1", res.EnrollmentID)
	assert.Equal(t, status.Initializing, res.Status)
	assert.Equal(t, "Initializing enrollment...", res.Message)
}

func TestProgress_NotFoundVsError(t *testing.T) {
	initTest(t)
	store.Set(&session.Session{EnrollmentID: "enr-err", Status: status.Error, Error: "helper crashed"})

	// unknown session gives 404
	req := httptest.NewRequest(http.MethodGet, "/enrollment-progress/no-such-id", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)

	// failed session gives a normal snapshot with error state
	req = httptest.NewRequest(http.MethodGet, "/enrollment-progress/enr-err", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[progressResult](t, resp.Result())
	assert.Equal(t, status.Error, res.Status)
	assert.Equal(t, "helper crashed", res.Error)
	assert.Equal(t, "Enrollment failed", res.Message)
}

func TestProgress_IncludesTemplateForConfirmation(t *testing.T) {
	initTest(t)
	store.Set(&session.Session{EnrollmentID: "enr-1", Status: status.Complete,
		TemplateBase64: "dGVtcGxhdGU=", TemplateSize: 8})

	req := httptest.NewRequest(http.MethodGet, "/enrollment-progress/enr-1", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[progressResult](t, resp.Result())
	assert.Equal(t, "dGVtcGxhdGU=", res.TemplateBase64)
	assert.Equal(t, 8, res.TemplateSize)
}

func TestEnrollmentStatus(t *testing.T) {
	initTest(t)
	dbMock.On("ListTemplates", mock.Anything, 42).Return([]persistence.TemplateInfo{
		{FUID: "f-1", UserID: 42, FingerID: 1, Name: "Jo", TemplateSize: 100},
		{FUID: "f-2", UserID: 42, FingerID: 3, Name: "Jo", TemplateSize: 120},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/enrollment-status/42", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[statusResult](t, resp.Result())
	assert.Equal(t, 2, res.TotalEnrolled)
	require.Len(t, res.EnrolledFingers, 2)
	assert.Equal(t, "f-1", res.EnrolledFingers[0].FUID)
	assert.Equal(t, 3, res.EnrolledFingers[1].FingerID)
}

func TestEnrollmentStatus_Empty(t *testing.T) {
	initTest(t)
	dbMock.On("ListTemplates", mock.Anything, 42).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/enrollment-status/42", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[statusResult](t, resp.Result())
	assert.Equal(t, 0, res.TotalEnrolled)
	assert.NotNil(t, res.EnrolledFingers)
}

func TestDeleteFinger(t *testing.T) {
	initTest(t)
	dbMock.On("DeleteTemplate", mock.Anything, 42, 3).Return(int64(1), nil)

	req := httptest.NewRequest(http.MethodDelete, "/delete-finger/42/3", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	res := test.Decode[deleteResult](t, resp.Result())
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestAuth(t *testing.T) {
	initTest(t)
	tData.AuthSecret = "test-secret"
	tEcho = initRoutes(tData)
	enrollerMock.On("CheckAvailability", mock.Anything, 42, 3).Return(
		&enrollment.Availability{Available: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	test.Code(t, tEcho, req, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	test.Code(t, tEcho, req, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken(t, "test-secret"))
	test.Code(t, tEcho, req, http.StatusOK)

	// health stays open
	capturerMock.On("Initialize", mock.Anything).Return(fmt.Errorf("no SDK"))
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	test.Code(t, tEcho, req, http.StatusOK)
	req = httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusOK)
}

func TestAuth_WrongSecret(t *testing.T) {
	initTest(t)
	tData.AuthSecret = "test-secret"
	tEcho = initRoutes(tData)

	req := httptest.NewRequest(http.MethodGet, "/check-finger/42/3", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken(t, "other-secret"))
	test.Code(t, tEcho, req, http.StatusUnauthorized)
}

func Test_validate(t *testing.T) {
	initTest(t)
	tests := []struct {
		name    string
		data    *Data
		wantErr bool
	}{
		{name: "OK", data: &Data{Enroller: enrollerMock, Capturer: capturerMock, DB: dbMock, Sessions: store}},
		{name: "Fail enroller", data: &Data{Capturer: capturerMock, DB: dbMock, Sessions: store}, wantErr: true},
		{name: "Fail capturer", data: &Data{Enroller: enrollerMock, DB: dbMock, Sessions: store}, wantErr: true},
		{name: "Fail DB", data: &Data{Enroller: enrollerMock, Capturer: capturerMock, Sessions: store}, wantErr: true},
		{name: "Fail sessions", data: &Data{Enroller: enrollerMock, Capturer: capturerMock, DB: dbMock}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validate(tt.data); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func jsonReq(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func testToken(t *testing.T, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte(secret))
	require.Nil(t, err)
	return token
}

type mockEnroller struct{ mock.Mock }

func (m *mockEnroller) CheckAvailability(ctx context.Context, userID, fingerID int) (*enrollment.Availability, error) {
	args := m.Called(ctx, userID, fingerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrollment.Availability), args.Error(1)
}

func (m *mockEnroller) Start(ctx context.Context, userID, fingerID int, name string) (string, error) {
	args := m.Called(ctx, userID, fingerID, name)
	return args.String(0), args.Error(1)
}

func (m *mockEnroller) Save(ctx context.Context, enrollmentID string, userID, fingerID int, name, templateBase64 string) (string, error) {
	args := m.Called(ctx, enrollmentID, userID, fingerID, name, templateBase64)
	return args.String(0), args.Error(1)
}
