package domain

// Method is the tagged variant of every operation a renderer may invoke on
// the host. The wire string is mapped to a Method at the boundary; anything
// unrecognized becomes MethodUnknown.
type Method int

const (
	MethodUnknown Method = iota
	MethodInit
	MethodFindInPage
	MethodStopFindInPage
	MethodSetSearchOverlayState
	MethodRegisterMailto
	MethodUnregisterMailto
	MethodIntegrateDesktop
	MethodUnintegrateDesktop
	MethodGetConfigValue
	MethodSetConfigValue
	MethodGetSpellcheckLanguages
	MethodGetIntegrationInfo
	MethodOpenFileChooser
	MethodOpen
	MethodDownload
	MethodSaveBlob
	MethodAesDecryptFile
	MethodOpenNewWindow
	MethodEnableAutoLaunch
	MethodDisableAutoLaunch
	MethodGetPushIdentifier
	MethodStorePushIdentifierLocally
	MethodInitPushNotifications
	MethodClosePushNotifications
	MethodSendSocketMessage
	MethodGetLog
	MethodChangeLanguage
	MethodManualUpdate
	MethodIsUpdateAvailable
	MethodMailToMsg
	MethodSaveToExportDir
	MethodCheckFileExistsInExportDirectory
	MethodStartNativeDrag
	MethodFocusApplicationWindow
	MethodClearFileData
	MethodScheduleAlarms
)

var methodNames = map[Method]string{
	MethodInit:                             "init",
	MethodFindInPage:                       "findInPage",
	MethodStopFindInPage:                   "stopFindInPage",
	MethodSetSearchOverlayState:            "setSearchOverlayState",
	MethodRegisterMailto:                   "registerMailto",
	MethodUnregisterMailto:                 "unregisterMailto",
	MethodIntegrateDesktop:                 "integrateDesktop",
	MethodUnintegrateDesktop:               "unIntegrateDesktop",
	MethodGetConfigValue:                   "getConfigValue",
	MethodSetConfigValue:                   "setConfigValue",
	MethodGetSpellcheckLanguages:           "getSpellcheckLanguages",
	MethodGetIntegrationInfo:               "getIntegrationInfo",
	MethodOpenFileChooser:                  "openFileChooser",
	MethodOpen:                             "open",
	MethodDownload:                         "download",
	MethodSaveBlob:                         "saveBlob",
	MethodAesDecryptFile:                   "aesDecryptFile",
	MethodOpenNewWindow:                    "openNewWindow",
	MethodEnableAutoLaunch:                 "enableAutoLaunch",
	MethodDisableAutoLaunch:                "disableAutoLaunch",
	MethodGetPushIdentifier:                "getPushIdentifier",
	MethodStorePushIdentifierLocally:       "storePushIdentifierLocally",
	MethodInitPushNotifications:            "initPushNotifications",
	MethodClosePushNotifications:           "closePushNotifications",
	MethodSendSocketMessage:                "sendSocketMessage",
	MethodGetLog:                           "getLog",
	MethodChangeLanguage:                   "changeLanguage",
	MethodManualUpdate:                     "manualUpdate",
	MethodIsUpdateAvailable:                "isUpdateAvailable",
	MethodMailToMsg:                        "mailToMsg",
	MethodSaveToExportDir:                  "saveToExportDir",
	MethodCheckFileExistsInExportDirectory: "checkFileExistsInExportDirectory",
	MethodStartNativeDrag:                  "startNativeDrag",
	MethodFocusApplicationWindow:           "focusApplicationWindow",
	MethodClearFileData:                    "clearFileData",
	MethodScheduleAlarms:                   "scheduleAlarms",
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methodNames))
	for method, name := range methodNames {
		m[name] = method
	}
	return m
}()

// ParseMethod maps a wire name to its Method. Unknown names yield MethodUnknown.
func ParseMethod(name string) Method {
	if m, ok := methodsByName[name]; ok {
		return m
	}
	return MethodUnknown
}

// String returns the wire name, or "unknown".
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// Methods returns every known method, in declaration order.
func Methods() []Method {
	out := make([]Method, 0, len(methodNames))
	for m := MethodInit; m <= MethodScheduleAlarms; m++ {
		out = append(out, m)
	}
	return out
}

// RendererMethod names an operation the host invokes on a renderer.
type RendererMethod string

const (
	RendererAppUpdateDownloaded RendererMethod = "appUpdateDownloaded"
	RendererReportError         RendererMethod = "reportError"
)
