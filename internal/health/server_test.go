package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubMongoChecker struct {
	err error
}

func (s stubMongoChecker) Ping(context.Context) error {
	return s.err
}

type stubConnChecker struct {
	connected bool
}

func (s stubConnChecker) IsConnected() bool {
	return s.connected
}

type stubStats struct {
	records int64
	enabled int64
	err     error
}

func (s stubStats) CountRecords(context.Context) (int64, error) {
	return s.records, s.err
}

func (s stubStats) CountEnabled(context.Context) (int64, error) {
	return s.enabled, s.err
}

func serveHealth(t *testing.T, server *Server) (int, response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, req)

	var resp response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}

	return rr.Code, resp
}

func TestHealthHandlerOK(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0,
		stubMongoChecker{},
		stubConnChecker{connected: true},
		stubStats{records: 5, enabled: 3},
		logrus.NewEntry(logger))

	code, resp := serveHealth(t, server)

	if code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", code)
	}
	if resp.Status != "ok" || resp.Mongo != "ok" || resp.WhatsApp != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Records == nil || *resp.Records != 5 {
		t.Fatalf("records = %v, want 5", resp.Records)
	}
	if resp.Enabled == nil || *resp.Enabled != 3 {
		t.Fatalf("enabled = %v, want 3", resp.Enabled)
	}
}

func TestHealthHandlerMongoError(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0,
		stubMongoChecker{err: errors.New("mongo down")},
		stubConnChecker{connected: true},
		stubStats{},
		logrus.NewEntry(logger))

	code, resp := serveHealth(t, server)

	if code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", code)
	}
	if resp.Status != "degraded" || resp.Mongo != "error" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealthHandlerWhatsAppDisconnected(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0,
		stubMongoChecker{},
		stubConnChecker{connected: false},
		stubStats{},
		logrus.NewEntry(logger))

	_, resp := serveHealth(t, server)

	if resp.Status != "degraded" || resp.WhatsApp != "disconnected" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealthHandlerMissingMongoChecker(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, nil, stubConnChecker{connected: true}, nil, logrus.NewEntry(logger))

	_, resp := serveHealth(t, server)

	if resp.Status != "degraded" || resp.Mongo != "error" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealthHandlerStatsErrorOmitsCounts(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0,
		stubMongoChecker{},
		stubConnChecker{connected: true},
		stubStats{err: errors.New("count failed")},
		logrus.NewEntry(logger))

	_, resp := serveHealth(t, server)

	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok despite stats failure", resp.Status)
	}
	if resp.Records != nil || resp.Enabled != nil {
		t.Fatalf("counts = (%v, %v), want omitted", resp.Records, resp.Enabled)
	}
}

func TestShutdownNilServer(t *testing.T) {
	var server *Server
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() on nil server error = %v", err)
	}
}
