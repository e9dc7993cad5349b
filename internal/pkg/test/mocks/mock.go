package mocks

import (
	"context"

	capi "github.com/hrix/bioenroll/internal/pkg/capture/api"
	"github.com/hrix/bioenroll/internal/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// Capturer is a biometric helper mock
type Capturer struct{ mock.Mock }

func (m *Capturer) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Capturer) Capture(ctx context.Context) (*capi.CaptureOutcome, error) {
	args := m.Called(ctx)
	return to[*capi.CaptureOutcome](args.Get(0)), args.Error(1)
}

func (m *Capturer) Enroll(ctx context.Context, userID, fingerID int, name string) (*capi.EnrollOutcome, error) {
	args := m.Called(ctx, userID, fingerID, name)
	return to[*capi.EnrollOutcome](args.Get(0)), args.Error(1)
}

func (m *Capturer) Cleanup(ctx context.Context) {
	m.Called(ctx)
}

func (m *Capturer) Devices(ctx context.Context) ([]capi.DeviceInfo, error) {
	args := m.Called(ctx)
	return to[[]capi.DeviceInfo](args.Get(0)), args.Error(1)
}

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) LoadTemplateInfo(ctx context.Context, userID, fingerID int) (*persistence.TemplateInfo, error) {
	args := m.Called(ctx, userID, fingerID)
	return to[*persistence.TemplateInfo](args.Get(0)), args.Error(1)
}

func (m *DB) InsertTemplate(ctx context.Context, t *persistence.Template) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *DB) ListTemplates(ctx context.Context, userID int) ([]persistence.TemplateInfo, error) {
	args := m.Called(ctx, userID)
	return to[[]persistence.TemplateInfo](args.Get(0)), args.Error(1)
}

func (m *DB) DeleteTemplate(ctx context.Context, userID, fingerID int) (int64, error) {
	args := m.Called(ctx, userID, fingerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DB) LoadUserName(ctx context.Context, userID int) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *DB) Live(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
