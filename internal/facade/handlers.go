package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/preesu/boardd/internal/board"
	"github.com/preesu/boardd/internal/rpc"
	"github.com/preesu/boardd/internal/wifi"
)

var success = map[string]string{"status": "success"}

// RegisterRPC adds the Device.* methods to srv.
func RegisterRPC(srv *rpc.Server, f Facade) {
	srv.AddHandler("Device.Pulse", pulseHandler(f))
	srv.AddHandler("Device.Output", outputHandler(f))
	srv.AddHandler("Device.Input", inputHandler(f))
	srv.AddHandler("Device.ResetConfig", resetConfigHandler(f))
	srv.AddHandler("Device.WifiScan", wifiScanHandler(f))
	srv.AddHandler("Device.SetupSTA", setupSTAHandler(f))
	srv.AddHandler("Device.ResetGSM", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return success, f.ResetGSM(ctx)
	})
	srv.AddHandler("Device.Telemetry", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return success, f.RequestTelemetry(ctx)
	})
	srv.AddHandler("Device.Attribute", attributeHandler(f))
}

func decode(args json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Unmarshal(args, v)
}

// boardError turns controller validation failures into 400s.
func boardError(err error) error {
	if errors.Is(err, board.ErrInvalidArgument) {
		return rpc.Errorf(rpc.CodeBadRequest, "%s", err.Error())
	}
	return err
}

func pulseHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			Output  *int   `json:"output"`
			PulseMs *int64 `json:"pulse_ms"`
		}
		if err := decode(args, &req); err != nil || req.Output == nil || req.PulseMs == nil {
			return nil, rpc.Errorf(rpc.CodeBadRequest, "Output number and pulse millisecond are required")
		}
		res, err := f.Pulse(ctx, *req.Output, pulseDuration(*req.PulseMs))
		if err != nil {
			return nil, boardError(err)
		}
		return res, nil
	}
}

// maxPulseMs is the longest pulse a time.Duration can hold.
const maxPulseMs = math.MaxInt64 / int64(time.Millisecond)

// pulseDuration converts pulse_ms, clamping lengths a Duration cannot hold.
// Non-positive values map to zero so they are rejected as such.
func pulseDuration(ms int64) time.Duration {
	switch {
	case ms <= 0:
		return 0
	case ms > maxPulseMs:
		ms = maxPulseMs
	}
	return time.Duration(ms) * time.Millisecond
}

func outputHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			Output *int            `json:"output"`
			Action json.RawMessage `json:"action"`
		}
		if err := decode(args, &req); err != nil || req.Output == nil || isNull(req.Action) {
			return nil, rpc.Errorf(rpc.CodeBadRequest, "Output number and action(-1: toggle, 0: low, 1: high) are required")
		}
		if err := board.CheckOutput(*req.Output); err != nil {
			return nil, boardError(err)
		}
		action, err := parseAction(req.Action)
		if err != nil {
			return nil, boardError(err)
		}
		res, err := f.SetOutput(ctx, *req.Output, action)
		if err != nil {
			return nil, boardError(err)
		}
		return res, nil
	}
}

// isNull reports whether a field was absent or explicitly null.
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseAction accepts the numeric wire codes or their names.
func parseAction(raw json.RawMessage) (board.Action, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return board.Action(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, rpc.Errorf(rpc.CodeBadRequest, "Invalid action")
	}
	return board.ParseAction(s)
}

func inputHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		st, err := f.ReadStatus(ctx)
		if err != nil {
			return nil, err
		}
		return st.Report(), nil
	}
}

func resetConfigHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			Level *int `json:"level"`
		}
		if err := decode(args, &req); err != nil || req.Level == nil {
			return nil, rpc.Errorf(rpc.CodeBadRequest, "Reset level is required")
		}
		if err := f.ResetConfig(ctx, *req.Level); err != nil {
			return nil, err
		}
		return success, nil
	}
}

func wifiScanHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		res, err := f.WifiScan(ctx)
		if err != nil {
			var se *wifi.ScanError
			if errors.As(err, &se) {
				return nil, rpc.Errorf(se.Code, "WIFI scan failed")
			}
			return nil, err
		}
		return res, nil
	}
}

func setupSTAHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		if len(bytes.TrimSpace(args)) == 0 {
			return nil, rpc.Errorf(rpc.CodeBadRequest, "%s failed", "WIFI setup")
		}
		if err := f.SetupSTA(ctx, args); err != nil {
			return nil, rpc.Errorf(rpc.CodeBadRequest, "%s failed", "WIFI setup")
		}
		return "WIFI setup succesful", nil
	}
}

func attributeHandler(f Facade) rpc.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req struct {
			Type int `json:"type"`
		}
		// A missing or malformed type requests attribute 0.
		_ = decode(args, &req)
		if err := f.RequestAttribute(ctx, req.Type); err != nil {
			return nil, err
		}
		return success, nil
	}
}
