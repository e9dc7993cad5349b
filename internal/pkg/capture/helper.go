package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/hrix/bioenroll/internal/pkg/capture/api"
)

// Helper talks to the native biometric helper executable.
// Every call spawns the executable with a command argument, progress lines
// arrive on stderr, the final result is a single JSON line on stdout.
type Helper struct {
	exePath       string
	captureTimout time.Duration
	enrollTimeout time.Duration
	runCmd        func(ctx context.Context, args ...string) ([]byte, error)
}

// NewHelper creates a helper process wrapper
func NewHelper(exePath string) (*Helper, error) {
	if exePath == "" {
		return nil, fmt.Errorf("no helper executable path")
	}
	res := &Helper{exePath: exePath,
		captureTimout: time.Second * 60,
		enrollTimeout: time.Minute * 3}
	res.runCmd = res.run
	return res, nil
}

// Initialize probes the native SDK. Failure here is fatal for a session,
// there is no retry at this level.
func (h *Helper) Initialize(ctx context.Context) error {
	out, err := h.runCmd(ctx, "init")
	if err != nil {
		return fmt.Errorf("can't init helper: %w", err)
	}
	var res struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := parseResult(out, &res); err != nil {
		return err
	}
	if res.Status != api.StatusSuccess {
		return fmt.Errorf("helper init failed: %s", res.Message)
	}
	return nil
}

// Devices enumerates attached readers
func (h *Helper) Devices(ctx context.Context) ([]api.DeviceInfo, error) {
	out, err := h.runCmd(ctx, "query")
	if err != nil {
		return nil, fmt.Errorf("can't query devices: %w", err)
	}
	var res struct {
		Status  string           `json:"status"`
		Devices []api.DeviceInfo `json:"devices"`
	}
	if err := parseResult(out, &res); err != nil {
		return nil, err
	}
	if res.Status != api.StatusSuccess {
		return nil, fmt.Errorf("device query failed")
	}
	return res.Devices, nil
}

// Capture performs one capture attempt
func (h *Helper) Capture(ctx context.Context) (*api.CaptureOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.captureTimout)
	defer cancel()
	out, err := h.runCmd(ctx, "capture")
	if err != nil {
		return nil, fmt.Errorf("can't capture: %w", err)
	}
	var res api.CaptureOutcome
	if err := parseResult(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Enroll runs the helper driven full enrollment. The helper shows its own
// capture UI, collects all 3 samples and builds the template itself.
func (h *Helper) Enroll(ctx context.Context, userID, fingerID int, name string) (*api.EnrollOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.enrollTimeout)
	defer cancel()
	out, err := h.runCmd(ctx, "enroll", strconv.Itoa(userID), strconv.Itoa(fingerID), name)
	if err != nil {
		return nil, fmt.Errorf("can't enroll: %w", err)
	}
	var res api.EnrollOutcome
	if err := parseResult(out, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("enrollment failed: %s", orUnknown(res.Message))
	}
	if res.TemplateBase64 == "" {
		return nil, fmt.Errorf("enrollment returned no template")
	}
	return &res, nil
}

// Cleanup releases native SDK resources, errors are only logged
func (h *Helper) Cleanup(ctx context.Context) {
	if _, err := h.runCmd(ctx, "cleanup"); err != nil {
		goapp.Log.Warn().Err(err).Msg("helper cleanup failed")
	}
}

func (h *Helper) run(ctx context.Context, args ...string) ([]byte, error) {
	goapp.Log.Debug().Str("cmd", args[0]).Msg("spawn helper")
	cmd := exec.CommandContext(ctx, h.exePath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("can't open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("can't start helper: %w", err)
	}
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			goapp.Log.Info().Str("helper", args[0]).Msg(l)
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("helper exited: %w", err)
	}
	return stdout.Bytes(), nil
}

// parseResult extracts the final JSON object from helper output.
// The helper may emit a BOM and informational lines before the result.
func parseResult(out []byte, v interface{}) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(out)), "\uFEFF")
	var last string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "{") || strings.HasPrefix(l, "[") {
			last = l
		}
	}
	if last == "" {
		return fmt.Errorf("no JSON in helper output")
	}
	if err := json.Unmarshal([]byte(last), v); err != nil {
		return fmt.Errorf("can't parse helper output: %w", err)
	}
	return nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
