package files

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deskbridge/internal/domain"
)

const emlMimeType = "message/rfc822"

// Exporter implements domain.FileExporter. Exported files land in an
// "export" directory under the temp directory, from where renderers drag
// them out.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter rooted at tempDir/export.
func NewExporter(tempDir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: filepath.Join(tempDir, "export"), logger: logger}
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// MailToMsg renders bundle as an RFC 5322 message.
func (e *Exporter) MailToMsg(_ context.Context, bundle domain.MailBundle, fileName string) (domain.DataFile, error) {
	data, err := renderEML(bundle)
	if err != nil {
		return domain.DataFile{}, err
	}
	name := SanitizeName(fileName)
	if !strings.EqualFold(filepath.Ext(name), ".eml") {
		name += ".eml"
	}
	return domain.DataFile{Name: name, MimeType: emlMimeType, Data: data, Size: len(data)}, nil
}

// SaveToExportDir writes file into the export directory, replacing a file
// of the same name, and returns its path.
func (e *Exporter) SaveToExportDir(_ context.Context, file domain.DataFile) (string, error) {
	if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	p, err := resolveIn(e.dir, SanitizeName(file.Name))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, file.Data, 0o600); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	e.logger.Debug("file exported", "path", p, "size", len(file.Data))
	return p, nil
}

// FileExistsInExportDir reports whether fileName was already exported.
func (e *Exporter) FileExistsInExportDir(_ context.Context, fileName string) (bool, error) {
	p, err := resolveIn(e.dir, fileName)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func renderEML(b domain.MailBundle) ([]byte, error) {
	var buf bytes.Buffer
	h := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	h("From", formatAddress(b.Sender))
	if len(b.To) > 0 {
		h("To", formatAddresses(b.To))
	}
	if len(b.Cc) > 0 {
		h("Cc", formatAddresses(b.Cc))
	}
	if len(b.Bcc) > 0 {
		h("Bcc", formatAddresses(b.Bcc))
	}
	if len(b.ReplyTo) > 0 {
		h("Reply-To", formatAddresses(b.ReplyTo))
	}
	h("Subject", mime.QEncoding.Encode("utf-8", b.Subject))
	date := b.SentOn
	if date.IsZero() {
		date = b.ReceivedOn
	}
	if !date.IsZero() {
		h("Date", date.Format(time.RFC1123Z))
	}
	if b.IsDraft {
		h("X-Unsent", "1")
	}
	h("MIME-Version", "1.0")

	mw := multipart.NewWriter(&buf)
	h("Content-Type", mime.FormatMediaType("multipart/related", map[string]string{
		"boundary": mw.Boundary(),
		"type":     "text/html",
	}))
	buf.WriteString("\r\n")

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(body)
	if _, err := qp.Write([]byte(b.Body)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	for _, att := range b.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAttachment(mw *multipart.Writer, att domain.DataFile) error {
	ct := att.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(ct, map[string]string{"name": att.Name})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Name})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(att.Data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}

func formatAddress(a domain.MailAddress) string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

func formatAddresses(list []domain.MailAddress) string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = formatAddress(a)
	}
	return strings.Join(out, ", ")
}
