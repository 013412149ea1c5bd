package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"plan_code": "PRO"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var body SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["plan_code"] != "PRO" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "ciclo"})
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusBadRequest {
		t.Fatalf("expected status 400 but got %d", got)
	}
	payload := decodeError(t, w)
	if payload.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", payload.Error.Code)
	}
	if payload.Error.Message != "bad input" {
		t.Fatalf("unexpected message %s", payload.Error.Message)
	}
	if payload.Error.Details == nil {
		t.Fatal("expected details to be included")
	}
}

func TestWriteErrorUsesPublicMessageForLifecycleCodes(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeDuplicatePendingRequest, "tenant 123 already has record abc pending")
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusConflict {
		t.Fatalf("expected status 409 but got %d", got)
	}
	payload := decodeError(t, w)
	want := pkgerrors.MetadataFor(pkgerrors.CodeDuplicatePendingRequest).PublicMessage
	if payload.Error.Message != want {
		t.Fatalf("expected public message %q got %q", want, payload.Error.Message)
	}
}

func TestWriteErrorHidesUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("pq: relation subscription_records does not exist"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	payload := decodeError(t, w)
	if payload.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", payload.Error.Code)
	}
	if payload.Error.Message != "internal server error" {
		t.Fatalf("storage text leaked: %s", payload.Error.Message)
	}
	if payload.Error.Details != nil {
		t.Fatalf("expected no details, got %v", payload.Error.Details)
	}
}

func TestWriteErrorLogsLifecycleRejectionAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "responses-test", Output: &buf})
	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, pkgerrors.New(pkgerrors.CodeNoChangeRequested, "same plan"))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", entry["level"])
	}
	if entry["lifecycle_rejection"] != true {
		t.Fatalf("expected lifecycle_rejection flag, got %v", entry["lifecycle_rejection"])
	}
	if entry["error_code"] != string(pkgerrors.CodeNoChangeRequested) {
		t.Fatalf("unexpected error_code %v", entry["error_code"])
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var payload ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return payload
}
