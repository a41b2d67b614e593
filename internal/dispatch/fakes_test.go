package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"deskbridge/internal/domain"
)

// fakeHost implements every collaborator port and records each call by
// method name. Errors configured in errs are returned by the named method.
type fakeHost struct {
	mu      sync.Mutex
	calls   []string
	errs    map[string]error
	windows map[domain.ActorID]*fakeWindow
	config  map[string]json.RawMessage
	sse     *domain.SseInfo
	update  *domain.UpdateInfo
	dirs    []string
	langs   []string
	logs    []string
	alarms  []domain.AlarmNotification
	blob    []byte
	socket  json.RawMessage
	lang    domain.LanguageSpec
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		errs:    map[string]error{},
		windows: map[domain.ActorID]*fakeWindow{},
		config:  map[string]json.RawMessage{},
	}
}

func (f *fakeHost) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeHost) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHost) services() Services {
	return Services{
		Windows: f, Desktop: f, Integrator: f, Config: f, Spellcheck: f,
		Dialogs: f, Downloads: f, Exporter: f, Crypto: f, ErrorReports: f,
		Notifier: f, Push: f, AlarmStorage: f, Alarms: f, Socket: f,
		Logs: f, Lang: f, Updater: f,
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// WindowManager
func (f *fakeHost) Get(id domain.ActorID) (domain.Window, bool) {
	f.record("Get")
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return nil, false
	}
	return w, true
}
func (f *fakeHost) NewWindow(context.Context) error { return f.record("NewWindow") }
func (f *fakeHost) StartNativeDrag(_ context.Context, _ domain.ActorID, _ []string) error {
	return f.record("StartNativeDrag")
}

// DesktopUtils
func (f *fakeHost) CheckIsMailtoHandler(context.Context) (bool, error) {
	return true, f.record("CheckIsMailtoHandler")
}
func (f *fakeHost) RegisterAsMailtoHandler(context.Context) error {
	return f.record("RegisterAsMailtoHandler")
}
func (f *fakeHost) UnregisterAsMailtoHandler(context.Context) error {
	return f.record("UnregisterAsMailtoHandler")
}

// Integrator
func (f *fakeHost) Integrate(context.Context) error   { return f.record("Integrate") }
func (f *fakeHost) Unintegrate(context.Context) error { return f.record("Unintegrate") }
func (f *fakeHost) IsIntegrated(context.Context) (bool, error) {
	return true, f.record("IsIntegrated")
}
func (f *fakeHost) EnableAutoLaunch(context.Context) error  { return f.record("EnableAutoLaunch") }
func (f *fakeHost) DisableAutoLaunch(context.Context) error { return f.record("DisableAutoLaunch") }
func (f *fakeHost) IsAutoLaunchEnabled(context.Context) (bool, error) {
	return false, f.record("IsAutoLaunchEnabled")
}

// ConfigStore
func (f *fakeHost) GetVar(_ context.Context, key string) (json.RawMessage, error) {
	if err := f.record("GetVar"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[key], nil
}
func (f *fakeHost) SetVar(_ context.Context, key string, value json.RawMessage) error {
	if err := f.record("SetVar"); err != nil {
		return err
	}
	f.mu.Lock()
	f.config[key] = value
	f.mu.Unlock()
	return nil
}

// SpellChecker
func (f *fakeHost) AvailableLanguages(context.Context) ([]string, error) {
	return f.langs, f.record("AvailableLanguages")
}

// Dialogs
func (f *fakeHost) ChooseDirectory(context.Context) ([]string, error) {
	return f.dirs, f.record("ChooseDirectory")
}

// DownloadManager
func (f *fakeHost) Open(context.Context, string) error { return f.record("Open") }
func (f *fakeHost) Download(_ context.Context, _, fileName string, _ map[string]string) (string, error) {
	return "/downloads/" + fileName, f.record("Download")
}
func (f *fakeHost) SaveBlob(_ context.Context, fileName string, data []byte) (string, error) {
	f.mu.Lock()
	f.blob = data
	f.mu.Unlock()
	return "/downloads/" + fileName, f.record("SaveBlob")
}
func (f *fakeHost) DeleteTempDirectory(context.Context) error { return f.record("DeleteTempDirectory") }

// FileExporter
func (f *fakeHost) MailToMsg(_ context.Context, b domain.MailBundle, fileName string) (domain.DataFile, error) {
	return domain.DataFile{Name: fileName, MimeType: "message/rfc822", Data: []byte(b.Subject)}, f.record("MailToMsg")
}
func (f *fakeHost) SaveToExportDir(_ context.Context, file domain.DataFile) (string, error) {
	return "/export/" + file.Name, f.record("SaveToExportDir")
}
func (f *fakeHost) FileExistsInExportDir(context.Context, string) (bool, error) {
	return true, f.record("FileExistsInExportDir")
}

// CryptoFacade
func (f *fakeHost) AesDecryptFile(_ context.Context, _, path string) (string, error) {
	return path + ".decrypted", f.record("AesDecryptFile")
}

// ErrorReporter
func (f *fakeHost) SendErrorReport(context.Context, domain.ActorID) error {
	return f.record("SendErrorReport")
}

// Notifier
func (f *fakeHost) ResolveGroupedNotification(context.Context, string) {
	f.record("ResolveGroupedNotification")
}

// PushStore
func (f *fakeHost) SseInfo(context.Context) (*domain.SseInfo, error) {
	return f.sse, f.record("SseInfo")
}
func (f *fakeHost) StorePushIdentifier(context.Context, string, string, string) error {
	return f.record("StorePushIdentifier")
}

// AlarmStorage
func (f *fakeHost) StorePushIdentifierSessionKey(context.Context, string, string) error {
	return f.record("StorePushIdentifierSessionKey")
}
func (f *fakeHost) PushIdentifierSessionKey(context.Context, string) (string, error) {
	return "", f.record("PushIdentifierSessionKey")
}

// AlarmScheduler
func (f *fakeHost) HandleAlarmNotification(_ context.Context, a domain.AlarmNotification) error {
	if err := f.record("HandleAlarmNotification:" + a.AlarmID); err != nil {
		return err
	}
	f.mu.Lock()
	f.alarms = append(f.alarms, a)
	f.mu.Unlock()
	return nil
}

// Socketeer
func (f *fakeHost) SendSocketMessage(_ context.Context, msg json.RawMessage) error {
	f.mu.Lock()
	f.socket = msg
	f.mu.Unlock()
	return f.record("SendSocketMessage")
}

// LogSource
func (f *fakeHost) Entries() []string {
	f.record("Entries")
	return f.logs
}

// Localizer
func (f *fakeHost) SetLanguage(_ context.Context, l domain.LanguageSpec) error {
	f.mu.Lock()
	f.lang = l
	f.mu.Unlock()
	return f.record("SetLanguage")
}

// Updater
func (f *fakeHost) ManualUpdate(context.Context) (bool, error) {
	return f.update != nil, f.record("ManualUpdate")
}
func (f *fakeHost) UpdateInfo() *domain.UpdateInfo {
	f.record("UpdateInfo")
	return f.update
}

// fakeWindow records calls on the shared host log so ordering across
// collaborators is observable.
type fakeWindow struct {
	host     *fakeHost
	id       domain.ActorID
	hidden   bool
	findRes  domain.FindResult
	findErr  error
	userInfo *domain.UserInfo
}

func (w *fakeWindow) ID() domain.ActorID { return w.id }
func (w *fakeWindow) FindInPage(context.Context, string, domain.FindOptions) (domain.FindResult, error) {
	w.host.record("FindInPage")
	return w.findRes, w.findErr
}
func (w *fakeWindow) StopFindInPage()                 { w.host.record("StopFindInPage") }
func (w *fakeWindow) SetSearchOverlayState(_, _ bool) { w.host.record("SetSearchOverlayState") }
func (w *fakeWindow) SetUserInfo(info domain.UserInfo) {
	w.host.record("SetUserInfo")
	w.userInfo = &info
}
func (w *fakeWindow) UserInfo() (domain.UserInfo, bool) {
	if w.userInfo == nil {
		return domain.UserInfo{}, false
	}
	return *w.userInfo, true
}
func (w *fakeWindow) IsHidden() bool { return w.hidden }
func (w *fakeWindow) Focus()         { w.host.record("Focus") }

func (f *fakeHost) addWindow(id domain.ActorID) *fakeWindow {
	w := &fakeWindow{host: f, id: id}
	f.mu.Lock()
	f.windows[id] = w
	f.mu.Unlock()
	return w
}
