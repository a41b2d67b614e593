package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"deskbridge/internal/domain"
)

func (d *Dispatcher) handlerTable() map[domain.Method]handlerFunc {
	return map[domain.Method]handlerFunc{
		domain.MethodInit:                             d.init,
		domain.MethodFindInPage:                       d.findInPage,
		domain.MethodStopFindInPage:                   d.stopFindInPage,
		domain.MethodSetSearchOverlayState:            d.setSearchOverlayState,
		domain.MethodRegisterMailto:                   d.registerMailto,
		domain.MethodUnregisterMailto:                 d.unregisterMailto,
		domain.MethodIntegrateDesktop:                 d.integrateDesktop,
		domain.MethodUnintegrateDesktop:               d.unintegrateDesktop,
		domain.MethodGetConfigValue:                   d.getConfigValue,
		domain.MethodSetConfigValue:                   d.setConfigValue,
		domain.MethodGetSpellcheckLanguages:           d.getSpellcheckLanguages,
		domain.MethodGetIntegrationInfo:               d.getIntegrationInfo,
		domain.MethodOpenFileChooser:                  d.openFileChooser,
		domain.MethodOpen:                             d.open,
		domain.MethodDownload:                         d.download,
		domain.MethodSaveBlob:                         d.saveBlob,
		domain.MethodAesDecryptFile:                   d.aesDecryptFile,
		domain.MethodOpenNewWindow:                    d.openNewWindow,
		domain.MethodEnableAutoLaunch:                 d.enableAutoLaunch,
		domain.MethodDisableAutoLaunch:                d.disableAutoLaunch,
		domain.MethodGetPushIdentifier:                d.getPushIdentifier,
		domain.MethodStorePushIdentifierLocally:       d.storePushIdentifierLocally,
		domain.MethodInitPushNotifications:            noop,
		domain.MethodClosePushNotifications:           noop,
		domain.MethodSendSocketMessage:                d.sendSocketMessage,
		domain.MethodGetLog:                           d.getLog,
		domain.MethodChangeLanguage:                   d.changeLanguage,
		domain.MethodManualUpdate:                     d.manualUpdate,
		domain.MethodIsUpdateAvailable:                d.isUpdateAvailable,
		domain.MethodMailToMsg:                        d.mailToMsg,
		domain.MethodSaveToExportDir:                  d.saveToExportDir,
		domain.MethodCheckFileExistsInExportDirectory: d.checkFileExistsInExportDirectory,
		domain.MethodStartNativeDrag:                  d.startNativeDrag,
		domain.MethodFocusApplicationWindow:           d.focusApplicationWindow,
		domain.MethodClearFileData:                    d.clearFileData,
		domain.MethodScheduleAlarms:                   d.scheduleAlarms,
	}
}

// Push notifications are driven by the host's own SSE connection, so the
// renderer's init/close requests have nothing to do.
func noop(context.Context, domain.ActorID, []json.RawMessage) (any, error) { return nil, nil }

// init is answered after the router has already released the actor's
// readiness barrier.
func (d *Dispatcher) init(context.Context, domain.ActorID, []json.RawMessage) (any, error) {
	return d.platform, nil
}

// --- window ---

func (d *Dispatcher) findInPage(ctx context.Context, actor domain.ActorID, args []json.RawMessage) (any, error) {
	var (
		text string
		opts domain.FindOptions
	)
	if err := decodeArgs(domain.MethodFindInPage, args, &text, &opts); err != nil {
		return nil, err
	}
	none := domain.FindResult{}
	w, ok := d.svc.Windows.Get(actor)
	if !ok {
		return none, nil
	}
	res, err := w.FindInPage(ctx, text, opts)
	if err != nil {
		// Rejected when searches arrive faster than the window can serve them.
		d.logger.Debug("findInPage rejected", "actor", actor, "error", err)
		return none, nil
	}
	return res, nil
}

func (d *Dispatcher) stopFindInPage(_ context.Context, actor domain.ActorID, _ []json.RawMessage) (any, error) {
	if w, ok := d.svc.Windows.Get(actor); ok {
		w.StopFindInPage()
	}
	return nil, nil
}

func (d *Dispatcher) setSearchOverlayState(_ context.Context, actor domain.ActorID, args []json.RawMessage) (any, error) {
	var state, force bool
	if err := decodeArgs(domain.MethodSetSearchOverlayState, args, &state, &force); err != nil {
		return nil, err
	}
	if w, ok := d.svc.Windows.Get(actor); ok {
		w.SetSearchOverlayState(state, force)
	}
	return nil, nil
}

func (d *Dispatcher) openNewWindow(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	return nil, collaboratorErr(domain.MethodOpenNewWindow, d.svc.Windows.NewWindow(ctx))
}

func (d *Dispatcher) startNativeDrag(ctx context.Context, actor domain.ActorID, args []json.RawMessage) (any, error) {
	var fileNames []string
	if err := decodeArgs(domain.MethodStartNativeDrag, args, &fileNames); err != nil {
		return nil, err
	}
	return nil, collaboratorErr(domain.MethodStartNativeDrag, d.svc.Windows.StartNativeDrag(ctx, actor, fileNames))
}

func (d *Dispatcher) focusApplicationWindow(_ context.Context, actor domain.ActorID, _ []json.RawMessage) (any, error) {
	if w, ok := d.svc.Windows.Get(actor); ok {
		w.Focus()
	}
	return nil, nil
}

// --- OS integration ---

func (d *Dispatcher) registerMailto(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	return nil, collaboratorErr(domain.MethodRegisterMailto, d.svc.Desktop.RegisterAsMailtoHandler(ctx))
}

func (d *Dispatcher) unregisterMailto(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	return nil, collaboratorErr(domain.MethodUnregisterMailto, d.svc.Desktop.UnregisterAsMailtoHandler(ctx))
}

func (d *Dispatcher) integrateDesktop(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	return nil, collaboratorErr(domain.MethodIntegrateDesktop, d.svc.Integrator.Integrate(ctx))
}

func (d *Dispatcher) unintegrateDesktop(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	return nil, collaboratorErr(domain.MethodUnintegrateDesktop, d.svc.Integrator.Unintegrate(ctx))
}

func (d *Dispatcher) enableAutoLaunch(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	if err := d.svc.Integrator.EnableAutoLaunch(ctx); err != nil {
		d.logger.Debug("could not enable auto launch", "error", err)
	}
	return nil, nil
}

func (d *Dispatcher) disableAutoLaunch(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	if err := d.svc.Integrator.DisableAutoLaunch(ctx); err != nil {
		d.logger.Debug("could not disable auto launch", "error", err)
	}
	return nil, nil
}

func (d *Dispatcher) getIntegrationInfo(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	var info domain.IntegrationInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.IsMailtoHandler, err = d.svc.Desktop.CheckIsMailtoHandler(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.IsAutoLaunchEnabled, err = d.svc.Integrator.IsAutoLaunchEnabled(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.IsIntegrated, err = d.svc.Integrator.IsIntegrated(gctx)
		return err
	})
	info.IsUpdateAvailable = d.svc.Updater != nil && d.svc.Updater.UpdateInfo() != nil
	if err := g.Wait(); err != nil {
		return nil, collaboratorErr(domain.MethodGetIntegrationInfo, err)
	}
	return info, nil
}

// --- configuration ---

func (d *Dispatcher) getConfigValue(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var key string
	if err := decodeArgs(domain.MethodGetConfigValue, args, &key); err != nil {
		return nil, err
	}
	v, err := d.svc.Config.GetVar(ctx, key)
	if err != nil {
		return nil, collaboratorErr(domain.MethodGetConfigValue, err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func (d *Dispatcher) setConfigValue(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var key string
	if err := decodeArgs(domain.MethodSetConfigValue, args, &key); err != nil {
		return nil, err
	}
	value := json.RawMessage("null")
	if len(args) > 1 && len(args[1]) > 0 {
		value = args[1]
	}
	return nil, collaboratorErr(domain.MethodSetConfigValue, d.svc.Config.SetVar(ctx, key, value))
}

func (d *Dispatcher) getSpellcheckLanguages(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	langs, err := d.svc.Spellcheck.AvailableLanguages(ctx)
	if err != nil {
		return nil, collaboratorErr(domain.MethodGetSpellcheckLanguages, err)
	}
	if langs == nil {
		langs = []string{}
	}
	return langs, nil
}

func (d *Dispatcher) changeLanguage(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var sel domain.LanguageSpec
	if err := decodeArgs(domain.MethodChangeLanguage, args, &sel); err != nil {
		return nil, err
	}
	return nil, collaboratorErr(domain.MethodChangeLanguage, d.svc.Lang.SetLanguage(ctx, sel))
}

func (d *Dispatcher) getLog(context.Context, domain.ActorID, []json.RawMessage) (any, error) {
	entries := d.svc.Logs.Entries()
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

// --- files ---

func (d *Dispatcher) openFileChooser(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var (
		filter   json.RawMessage
		isFolder bool
	)
	if err := decodeArgs(domain.MethodOpenFileChooser, args, &filter, &isFolder); err != nil {
		return nil, err
	}
	if !isFolder {
		return []string{}, nil
	}
	if d.svc.Dialogs == nil {
		return nil, collaboratorErr(domain.MethodOpenFileChooser, domain.ErrNoDialog)
	}
	paths, err := d.svc.Dialogs.ChooseDirectory(ctx)
	if err != nil {
		return nil, collaboratorErr(domain.MethodOpenFileChooser, err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

func (d *Dispatcher) open(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var itemPath, mimeType string
	if err := decodeArgs(domain.MethodOpen, args, &itemPath, &mimeType); err != nil {
		return nil, err
	}
	return nil, collaboratorErr(domain.MethodOpen, d.svc.Downloads.Open(ctx, itemPath))
}

func (d *Dispatcher) download(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var (
		sourceURL, fileName string
		headers             map[string]string
	)
	if err := decodeArgs(domain.MethodDownload, args, &sourceURL, &fileName, &headers); err != nil {
		return nil, err
	}
	p, err := d.svc.Downloads.Download(ctx, sourceURL, fileName, headers)
	if err != nil {
		return nil, collaboratorErr(domain.MethodDownload, err)
	}
	return p, nil
}

func (d *Dispatcher) saveBlob(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var fileName, dataB64 string
	if err := decodeArgs(domain.MethodSaveBlob, args, &fileName, &dataB64); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, fmt.Errorf("%w: saveBlob data: %v", domain.ErrInvalidArguments, err)
	}
	p, err := d.svc.Downloads.SaveBlob(ctx, fileName, data)
	if err != nil {
		return nil, collaboratorErr(domain.MethodSaveBlob, err)
	}
	return p, nil
}

func (d *Dispatcher) clearFileData(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	if err := d.svc.Downloads.DeleteTempDirectory(ctx); err != nil {
		d.logger.Warn("could not clear temp directory", "error", err)
	}
	return nil, nil
}

func (d *Dispatcher) aesDecryptFile(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var keyB64, path string
	if err := decodeArgs(domain.MethodAesDecryptFile, args, &keyB64, &path); err != nil {
		return nil, err
	}
	out, err := d.svc.Crypto.AesDecryptFile(ctx, keyB64, path)
	if err != nil {
		return nil, collaboratorErr(domain.MethodAesDecryptFile, err)
	}
	return out, nil
}

func (d *Dispatcher) mailToMsg(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var (
		bundle   domain.MailBundle
		fileName string
	)
	if err := decodeArgs(domain.MethodMailToMsg, args, &bundle, &fileName); err != nil {
		return nil, err
	}
	file, err := d.svc.Exporter.MailToMsg(ctx, bundle, fileName)
	if err != nil {
		return nil, collaboratorErr(domain.MethodMailToMsg, err)
	}
	return file, nil
}

func (d *Dispatcher) saveToExportDir(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var file domain.DataFile
	if err := decodeArgs(domain.MethodSaveToExportDir, args, &file); err != nil {
		return nil, err
	}
	p, err := d.svc.Exporter.SaveToExportDir(ctx, file)
	if err != nil {
		return nil, collaboratorErr(domain.MethodSaveToExportDir, err)
	}
	return p, nil
}

func (d *Dispatcher) checkFileExistsInExportDirectory(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var fileName string
	if err := decodeArgs(domain.MethodCheckFileExistsInExportDirectory, args, &fileName); err != nil {
		return nil, err
	}
	ok, err := d.svc.Exporter.FileExistsInExportDir(ctx, fileName)
	if err != nil {
		return nil, collaboratorErr(domain.MethodCheckFileExistsInExportDirectory, err)
	}
	return ok, nil
}

// --- push notifications and alarms ---

// getPushIdentifier flushes the window's pending error report before
// anything else, then records who is logged in to the window.
func (d *Dispatcher) getPushIdentifier(ctx context.Context, actor domain.ActorID, args []json.RawMessage) (any, error) {
	var info domain.UserInfo
	if err := decodeArgs(domain.MethodGetPushIdentifier, args, &info.UserID, &info.MailAddress); err != nil {
		return nil, err
	}
	if err := d.svc.ErrorReports.SendErrorReport(ctx, actor); err != nil {
		return nil, collaboratorErr(domain.MethodGetPushIdentifier, err)
	}
	w, ok := d.svc.Windows.Get(actor)
	if !ok {
		return nil, nil
	}
	w.SetUserInfo(info)
	if !w.IsHidden() {
		d.svc.Notifier.ResolveGroupedNotification(ctx, info.UserID)
	}
	sse, err := d.svc.Push.SseInfo(ctx)
	if err != nil {
		return nil, collaboratorErr(domain.MethodGetPushIdentifier, err)
	}
	if sse == nil {
		return nil, nil
	}
	return sse.Identifier, nil
}

func (d *Dispatcher) storePushIdentifierLocally(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var identifier, userID, sseOrigin, pushIdentifierID, sessionKeyB64 string
	if err := decodeArgs(domain.MethodStorePushIdentifierLocally, args,
		&identifier, &userID, &sseOrigin, &pushIdentifierID, &sessionKeyB64); err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.svc.Push.StorePushIdentifier(gctx, identifier, userID, sseOrigin)
	})
	g.Go(func() error {
		return d.svc.AlarmStorage.StorePushIdentifierSessionKey(gctx, pushIdentifierID, sessionKeyB64)
	})
	return nil, collaboratorErr(domain.MethodStorePushIdentifierLocally, g.Wait())
}

func (d *Dispatcher) scheduleAlarms(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	var alarms []domain.AlarmNotification
	if err := decodeArgs(domain.MethodScheduleAlarms, args, &alarms); err != nil {
		return nil, err
	}
	for _, alarm := range alarms {
		if err := d.svc.Alarms.HandleAlarmNotification(ctx, alarm); err != nil {
			return nil, collaboratorErr(domain.MethodScheduleAlarms, err)
		}
	}
	return nil, nil
}

// --- admin socket and updates ---

func (d *Dispatcher) sendSocketMessage(ctx context.Context, _ domain.ActorID, args []json.RawMessage) (any, error) {
	if d.svc.Socket == nil {
		return nil, collaboratorErr(domain.MethodSendSocketMessage, domain.ErrSocketClosed)
	}
	return nil, collaboratorErr(domain.MethodSendSocketMessage, d.svc.Socket.SendSocketMessage(ctx, args[0]))
}

func (d *Dispatcher) manualUpdate(ctx context.Context, _ domain.ActorID, _ []json.RawMessage) (any, error) {
	if d.svc.Updater == nil {
		return false, nil
	}
	ok, err := d.svc.Updater.ManualUpdate(ctx)
	if err != nil {
		return nil, collaboratorErr(domain.MethodManualUpdate, err)
	}
	return ok, nil
}

func (d *Dispatcher) isUpdateAvailable(context.Context, domain.ActorID, []json.RawMessage) (any, error) {
	if d.svc.Updater == nil {
		return nil, nil
	}
	if info := d.svc.Updater.UpdateInfo(); info != nil {
		return info, nil
	}
	return nil, nil
}
