package api_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/api"
	"github.com/your-org/admsgw/internal/api/handlers"
	"github.com/your-org/admsgw/internal/auth"
	"github.com/your-org/admsgw/internal/clock"
	"github.com/your-org/admsgw/internal/commands"
	"github.com/your-org/admsgw/internal/config"
	"github.com/your-org/admsgw/internal/ingest"
	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/presence"
	"github.com/your-org/admsgw/internal/storage/storagetest"
	"github.com/your-org/admsgw/pkg/dto"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testADMS = config.ADMSConfig{
	TimeZone:      "UTC",
	ErrorDelay:    30,
	Delay:         10,
	TransTimes:    "00:00;14:05",
	TransInterval: 1,
	TransFlag:     "1111000000",
	TimeZoneHours: 3,
	Realtime:      true,
}

type fixture struct {
	store  *storagetest.Store
	blobs  *storagetest.Blobs
	clock  *clock.FakeClock
	router *gin.Engine
}

func newFixture(t *testing.T, configure ...func(*api.RouterConfig)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store: storagetest.New(),
		blobs: storagetest.NewBlobs(),
		clock: clock.Fake(testNow),
	}
	queue := commands.NewQueue(f.store, nil)
	engine := ingest.NewEngine(ingest.Config{
		Store:    f.store,
		Blobs:    f.blobs,
		Commands: queue,
		Clock:    f.clock,
		Location: time.UTC,
	})

	cfg := api.RouterConfig{
		Store:    f.store,
		Blobs:    f.blobs,
		Engine:   engine,
		Commands: queue,
		Presence: presence.NewTracker(f.store, f.clock),
		ADMS:     testADMS,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.router = api.NewRouter(cfg)
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", envelope.Data, err)
	}
}

func TestIClockRoutesAnswerOK(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodPost, "/iclock/cdata?SN=SN1", "ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\n"},
		{http.MethodPost, "/iclock/cdata?SN=SN1", "garbage that is not a record\n"},
		{http.MethodGet, "/iclock/getrequest?SN=SN1", ""},
		{http.MethodPost, "/iclock/devicecmd?SN=SN1", "OK 99\n"},
		{http.MethodPost, "/iclock/fdata?SN=SN1", "FP\t1001\t6\tdata\n"},
		{http.MethodPost, "/iclock/deviceinfo?SN=SN1", "INFO\tFirmwareVersion=Ver 6.60\n"},
		{http.MethodGet, "/iclock/deviceinfo", ""},
		{http.MethodPost, "/iclock/upload?SN=SN1&FileName=a.jpg", "short"},
		{http.MethodGet, "/iclock/log?SN=SN1", ""},
		{http.MethodPost, "/iclock/log?SN=SN1", "diagnostic text"},
		{http.MethodPost, "/iclock/devicecmd", "OK 1\n"},
		{http.MethodGet, "/iclock/cdata", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := f.do(tt.method, tt.target, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
			if w.Body.String() != "OK" {
				t.Errorf("body = %q, want OK", w.Body.String())
			}
		})
	}
}

func TestIClockMissingSerial(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"/iclock/cdata", "/iclock/getrequest"} {
		method := http.MethodGet
		if target == "/iclock/cdata" {
			method = http.MethodPost
		}
		w := f.do(method, target, "ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\n")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s status = %d, want 400", method, target, w.Code)
		}
	}
	if logs := f.store.AttendanceLogs(); len(logs) != 0 {
		t.Errorf("stored %d logs without a serial number", len(logs))
	}
}

func TestHeartbeatRegistersDevice(t *testing.T) {
	f := newFixture(t)

	f.do(http.MethodGet, "/iclock/getrequest?SN=CQZ7231460012", "")

	d, err := f.store.GetDeviceBySerial(context.Background(), "CQZ7231460012")
	if err != nil || d == nil {
		t.Fatalf("device not created by heartbeat: %v", err)
	}
	if !d.LastSeen.Equal(testNow) {
		t.Errorf("LastSeen = %v, want %v", d.LastSeen, testNow)
	}
}

func TestHandshakeOptions(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/iclock/cdata?SN=SN1&options=all", "")
	body := w.Body.String()
	for _, line := range []string{
		"GET OPTION FROM: SN1\n",
		"ATTLOGStamp=None\n",
		"ErrorDelay=30\n",
		"Delay=10\n",
		"TransTimes=00:00;14:05\n",
		"TransFlag=1111000000\n",
		"TimeZone=3\n",
		"Realtime=1\n",
	} {
		if !strings.Contains(body, line) {
			t.Errorf("handshake missing %q in %q", line, body)
		}
	}

	f.do(http.MethodPost, "/iclock/cdata?SN=SN1&TransactionStamp=9912", "ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\n")
	w = f.do(http.MethodGet, "/iclock/cdata?SN=SN1&options=all", "")
	if !strings.Contains(w.Body.String(), "ATTLOGStamp=9912\n") {
		t.Errorf("handshake after push = %q, want stored stamp", w.Body.String())
	}
}

func TestCommandRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/devices/SN1/commands", `{"command":"DATA QUERY USERINFO"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body.String())
	}
	var created dto.CommandResponse
	decodeData(t, w, &created)

	w = f.do(http.MethodGet, "/iclock/getrequest?SN=SN1", "")
	if want := "C:1:DATA QUERY USERINFO\n"; w.Body.String() != want {
		t.Fatalf("poll = %q, want %q", w.Body.String(), want)
	}
	if w = f.do(http.MethodGet, "/iclock/getrequest?SN=SN1", ""); w.Body.String() != "OK" {
		t.Errorf("second poll = %q, want OK", w.Body.String())
	}
	if cmd := f.store.Command("SN1", created.CommandID); cmd.Status != models.CommandSent {
		t.Errorf("status after poll = %s, want sent", cmd.Status)
	}

	f.do(http.MethodPost, "/iclock/devicecmd?SN=SN1", "ID=1&Return=0&CMD=DATA\n")
	if cmd := f.store.Command("SN1", created.CommandID); cmd.Status != models.CommandAcked {
		t.Errorf("status after result = %s, want acked", cmd.Status)
	}

	w = f.do(http.MethodGet, "/v1/devices/SN1/commands", "")
	var listed []dto.CommandResponse
	decodeData(t, w, &listed)
	if len(listed) != 1 || listed[0].Status != "acked" {
		t.Errorf("listed commands = %+v", listed)
	}
}

func TestEnqueueRejectsInvalidCommand(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing command", `{}`},
		{"blank command", `{"command":"   "}`},
		{"multi-line command", `{"command":"REBOOT\nCLEAR DATA"}`},
		{"not json", `REBOOT`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(http.MethodPost, "/v1/devices/SN1/commands", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

type panickingEngine struct{}

func (panickingEngine) Ingest(context.Context, ingest.Batch) ingest.Result {
	panic("decoder blew up")
}

func TestHandlerPanicStillAnswersOK(t *testing.T) {
	f := newFixture(t, func(cfg *api.RouterConfig) { cfg.Engine = panickingEngine{} })

	w := f.do(http.MethodPost, "/iclock/cdata?SN=SN1", "ATTLOG\t1001\n")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("got %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestDeviceInfoEcho(t *testing.T) {
	f := newFixture(t)

	f.do(http.MethodPost, "/iclock/deviceinfo?SN=SN1", "INFO\tVer 6.60\t&options=DeviceName=Lobby,FirmwareVersion=Ver 6.60,FaceFun=1\n")

	w := f.do(http.MethodGet, "/iclock/deviceinfo?SN=SN1", "")
	if want := "INFO\tSN=SN1\tName=Lobby\tFirmware=Ver 6.60\n"; w.Body.String() != want {
		t.Errorf("deviceinfo = %q, want %q", w.Body.String(), want)
	}
}

func TestUploadStoresDecodedFile(t *testing.T) {
	f := newFixture(t)
	payload := []byte(strings.Repeat("jpegbytes", 20))
	encoded := base64.StdEncoding.EncodeToString(payload)

	w := f.do(http.MethodPost, "/iclock/upload?SN=SN1&FileName=../../photo.jpg", encoded[:60]+"\n"+encoded[60:])
	if w.Body.String() != "OK" {
		t.Fatalf("upload body = %q", w.Body.String())
	}

	obj, ok := f.blobs.Object("SN1/photo.jpg")
	if !ok {
		t.Fatal("upload not stored at SN1/photo.jpg")
	}
	if string(obj.Data) != string(payload) || obj.ContentType != "image/jpeg" {
		t.Errorf("stored %q as %s", obj.Data, obj.ContentType)
	}
}

func TestDevicesReportOnline(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/iclock/getrequest?SN=SN1", "")

	var devices []dto.DeviceResponse
	decodeData(t, f.do(http.MethodGet, "/v1/devices", ""), &devices)
	if len(devices) != 1 || !devices[0].Online {
		t.Fatalf("devices = %+v, want SN1 online", devices)
	}

	f.clock.Advance(presence.OnlineWindow + time.Second)
	var one dto.DeviceResponse
	decodeData(t, f.do(http.MethodGet, "/v1/devices/SN1", ""), &one)
	if one.Online {
		t.Error("device still online after the window passed")
	}

	if w := f.do(http.MethodGet, "/v1/devices/NOPE", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/devices", `{"serial_number":"SN9","name":"Gate"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	var d dto.DeviceResponse
	decodeData(t, w, &d)
	if d.SerialNumber != "SN9" || d.Name == nil || *d.Name != "Gate" {
		t.Errorf("registered = %+v", d)
	}

	if w := f.do(http.MethodPost, "/v1/devices", `{"serial_number":"SN9"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/devices", `{"name":"Gate"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing serial status = %d, want 400", w.Code)
	}
}

func TestEmployees(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/iclock/cdata?SN=SN1", "USER\t1001\tJane\t\t14\n")

	var list []dto.EmployeeResponse
	decodeData(t, f.do(http.MethodGet, "/v1/employees", ""), &list)
	if len(list) != 1 || list[0].EmployeeCode != "1001" {
		t.Fatalf("employees = %+v", list)
	}

	var e dto.EmployeeResponse
	decodeData(t, f.do(http.MethodGet, "/v1/employees/1001", ""), &e)
	if e.Name == nil || *e.Name != "Jane" || e.Privilege != 14 {
		t.Errorf("employee = %+v", e)
	}

	if w := f.do(http.MethodGet, "/v1/employees/404", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown employee status = %d, want 404", w.Code)
	}
}

func TestAttendanceFilters(t *testing.T) {
	f := newFixture(t)
	photo := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	f.do(http.MethodPost, "/iclock/cdata?SN=SN1",
		"ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\t"+photo+"\n"+
			"ATTLOG\t1002\t2026-03-02 09:30:00\t1\t15\n")
	f.do(http.MethodPost, "/iclock/cdata?SN=SN2", "ATTLOG\t1001\t2026-03-03 17:45:00\t1\t1\n")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all newest first", "", []string{"2026-03-03T17:45:00", "2026-03-02T09:30:00", "2026-03-01T08:00:12"}},
		{"by employee", "?employee_code=1001", []string{"2026-03-03T17:45:00", "2026-03-01T08:00:12"}},
		{"by device", "?device_sn=SN2", []string{"2026-03-03T17:45:00"}},
		{"date-only end covers the day", "?start_date=2026-03-02&end_date=2026-03-02", []string{"2026-03-02T09:30:00"}},
		{"datetime bounds", "?start_date=2026-03-01%2008:00:13&end_date=2026-03-03%2017:44:59", []string{"2026-03-02T09:30:00"}},
		{"limit", "?limit=1", []string{"2026-03-03T17:45:00"}},
		{"unknown employee", "?employee_code=nobody", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/v1/attendance"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var rows []dto.AttendanceResponse
			decodeData(t, w, &rows)
			got := make([]string, 0, len(rows))
			for _, r := range rows {
				got = append(got, r.PunchTimestamp)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("punches = %v, want %v", got, tt.want)
			}
		})
	}

	var rows []dto.AttendanceResponse
	decodeData(t, f.do(http.MethodGet, "/v1/attendance?device_sn=SN1&employee_code=1001", ""), &rows)
	if len(rows) != 1 || rows[0].PhotoURL == nil || !strings.HasPrefix(*rows[0].PhotoURL, "https://blobs.test/SN1/") {
		t.Errorf("photo url = %+v", rows)
	}

	if w := f.do(http.MethodGet, "/v1/attendance?start_date=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", w.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t, func(cfg *api.RouterConfig) { cfg.Keys = auth.Keys{Plain: "s3cret"} })

	if w := f.do(http.MethodGet, "/v1/devices", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/devices", "", "X-API-Key", "wrong"); w.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/devices", "", "X-API-Key", "s3cret"); w.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", w.Code)
	}
	if w := f.do(http.MethodPost, "/iclock/cdata?SN=SN1", ""); w.Code != http.StatusOK {
		t.Errorf("terminal route status = %d, want 200 without a key", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, func(cfg *api.RouterConfig) {
		cfg.Checks = map[string]handlers.Check{
			"postgres": func(context.Context) error { return nil },
			"nats":     func(context.Context) error { return errors.New("no servers available") },
		}
	})

	w := f.do(http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no servers available") {
		t.Errorf("body = %s", w.Body.String())
	}
	if w := f.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
}
