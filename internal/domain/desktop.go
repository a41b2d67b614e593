package domain

import (
	"context"
	"encoding/json"
	"time"
)

// FindOptions mirrors the renderer's search options for find-in-page.
type FindOptions struct {
	Forward   bool `json:"forward"`
	MatchCase bool `json:"matchCase"`
	FindNext  bool `json:"findNext"`
}

// FindResult is the outcome of a find-in-page request.
type FindResult struct {
	NumberOfMatches int `json:"numberOfMatches"`
	CurrentMatch    int `json:"currentMatch"`
}

// UserInfo identifies the user logged in to a window.
type UserInfo struct {
	UserID      string `json:"userId"`
	MailAddress string `json:"mailAddress"`
}

// IntegrationInfo is the combined OS integration status of the application.
type IntegrationInfo struct {
	IsMailtoHandler     bool `json:"isMailtoHandler"`
	IsAutoLaunchEnabled bool `json:"isAutoLaunchEnabled"`
	IsIntegrated        bool `json:"isIntegrated"`
	IsUpdateAvailable   bool `json:"isUpdateAvailable"`
}

// UpdateInfo describes a staged application update.
type UpdateInfo struct {
	Version      string    `json:"version"`
	ReleaseDate  time.Time `json:"releaseDate"`
	ReleaseNotes string    `json:"releaseNotes,omitempty"`
	URL          string    `json:"url"`
	SHA512       string    `json:"sha512,omitempty"`
}

// DataFile is an in-memory file handed across the channel.
type DataFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
	Size     int    `json:"size"`
}

// MailAddress is a display name plus address.
type MailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// MailBundle is a self-contained mail as exported by a renderer.
type MailBundle struct {
	MailID      string        `json:"mailId"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Sender      MailAddress   `json:"sender"`
	To          []MailAddress `json:"to"`
	Cc          []MailAddress `json:"cc"`
	Bcc         []MailAddress `json:"bcc"`
	ReplyTo     []MailAddress `json:"replyTo"`
	IsDraft     bool          `json:"isDraft"`
	IsRead      bool          `json:"isRead"`
	SentOn      time.Time     `json:"sentOn"`
	ReceivedOn  time.Time     `json:"receivedOn"`
	Headers     string        `json:"headers,omitempty"`
	Attachments []DataFile    `json:"attachments"`
}

// LanguageSpec selects the UI language.
type LanguageSpec struct {
	Code        string `json:"code"`
	LanguageTag string `json:"languageTag"`
}

// SseInfo is the locally stored push-notification registration.
type SseInfo struct {
	Identifier string   `json:"identifier"`
	SseOrigin  string   `json:"sseOrigin"`
	UserIDs    []string `json:"userIds"`
}

// AlarmOperation is the kind of change carried by an alarm notification.
type AlarmOperation string

const (
	AlarmCreate AlarmOperation = "create"
	AlarmDelete AlarmOperation = "delete"
)

// RepeatRule describes how a calendar alarm recurs.
type RepeatRule struct {
	Frequency string     `json:"frequency"` // DAILY, WEEKLY, MONTHLY, ANNUALLY
	Interval  int        `json:"interval"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// AlarmNotification schedules or cancels one calendar alarm.
type AlarmNotification struct {
	Operation  AlarmOperation `json:"operation"`
	AlarmID    string         `json:"alarmIdentifier"`
	UserID     string         `json:"user"`
	Summary    string         `json:"summary"`
	EventStart time.Time      `json:"eventStart"`
	// Trigger is the offset before EventStart: "5M", "1H", "1D", "1W" or a Go duration.
	Trigger    string         `json:"trigger"`
	RepeatRule *RepeatRule    `json:"repeatRule,omitempty"`

	// PushIdentifierID names the push identifier whose session key
	// decrypts this alarm. Empty for alarms that carry no encrypted data.
	PushIdentifierID string `json:"pushIdentifierId,omitempty"`
}

// Window is the host-side handle of one renderer window.
type Window interface {
	ID() ActorID
	FindInPage(ctx context.Context, text string, opts FindOptions) (FindResult, error)
	StopFindInPage()
	SetSearchOverlayState(state, force bool)
	SetUserInfo(info UserInfo)
	UserInfo() (UserInfo, bool)
	IsHidden() bool
	Focus()
}

// WindowManager tracks host-side windows by actor id.
type WindowManager interface {
	Get(id ActorID) (Window, bool)
	NewWindow(ctx context.Context) error
	StartNativeDrag(ctx context.Context, id ActorID, fileNames []string) error
}

// DesktopUtils handles the mailto protocol registration.
type DesktopUtils interface {
	CheckIsMailtoHandler(ctx context.Context) (bool, error)
	RegisterAsMailtoHandler(ctx context.Context) error
	UnregisterAsMailtoHandler(ctx context.Context) error
}

// Integrator handles desktop-environment integration and auto launch.
type Integrator interface {
	Integrate(ctx context.Context) error
	Unintegrate(ctx context.Context) error
	IsIntegrated(ctx context.Context) (bool, error)
	EnableAutoLaunch(ctx context.Context) error
	DisableAutoLaunch(ctx context.Context) error
	IsAutoLaunchEnabled(ctx context.Context) (bool, error)
}

// ConfigStore persists desktop configuration values by key.
type ConfigStore interface {
	GetVar(ctx context.Context, key string) (json.RawMessage, error)
	SetVar(ctx context.Context, key string, value json.RawMessage) error
}

// SpellChecker lists the languages available for spell checking.
type SpellChecker interface {
	AvailableLanguages(ctx context.Context) ([]string, error)
}

// Dialogs opens native file dialogs.
type Dialogs interface {
	ChooseDirectory(ctx context.Context) ([]string, error)
}

// DownloadManager moves files between the network, the renderer and disk.
type DownloadManager interface {
	Open(ctx context.Context, itemPath string) error
	Download(ctx context.Context, sourceURL, fileName string, headers map[string]string) (string, error)
	SaveBlob(ctx context.Context, fileName string, data []byte) (string, error)
	DeleteTempDirectory(ctx context.Context) error
}

// FileExporter writes mails and files to the export directory.
type FileExporter interface {
	MailToMsg(ctx context.Context, bundle MailBundle, fileName string) (DataFile, error)
	SaveToExportDir(ctx context.Context, file DataFile) (string, error)
	FileExistsInExportDir(ctx context.Context, fileName string) (bool, error)
}

// CryptoFacade decrypts files with keys handed over by a renderer.
type CryptoFacade interface {
	AesDecryptFile(ctx context.Context, keyB64, path string) (string, error)
}

// ErrorReporter delivers pending error reports to the window they belong to.
type ErrorReporter interface {
	SendErrorReport(ctx context.Context, id ActorID) error
}

// Notifier shows desktop notifications grouped per user.
type Notifier interface {
	ResolveGroupedNotification(ctx context.Context, userID string)
}

// PushStore persists the push-notification registration.
type PushStore interface {
	SseInfo(ctx context.Context) (*SseInfo, error)
	StorePushIdentifier(ctx context.Context, identifier, userID, sseOrigin string) error
}

// AlarmStorage persists session keys needed to decrypt alarm notifications.
type AlarmStorage interface {
	StorePushIdentifierSessionKey(ctx context.Context, pushIdentifierID, sessionKeyB64 string) error
	PushIdentifierSessionKey(ctx context.Context, pushIdentifierID string) (string, error)
}

// AlarmScheduler schedules and cancels alarm notifications.
type AlarmScheduler interface {
	HandleAlarmNotification(ctx context.Context, alarm AlarmNotification) error
}

// Socketeer relays messages to the admin client socket.
type Socketeer interface {
	SendSocketMessage(ctx context.Context, msg json.RawMessage) error
}

// LogSource exposes recent in-memory log entries.
type LogSource interface {
	Entries() []string
}

// Localizer switches the application language.
type Localizer interface {
	SetLanguage(ctx context.Context, lang LanguageSpec) error
}

// Updater checks for and stages application updates.
type Updater interface {
	ManualUpdate(ctx context.Context) (bool, error)
	UpdateInfo() *UpdateInfo
}
