package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/logging"
)

// Category groups failures sharing one last-error record.
type Category string

// Failure categories
const (
	CategoryGlobal        Category = "aozan"
	CategoryHiSeq         Category = "hiseq"
	CategorySync          Category = "sync"
	CategoryDemux         Category = "demux"
	CategoryRecompress    Category = "recompress"
	CategoryQC            Category = "qc"
	CategorySpaceEstimate Category = "space_estimated"
)

// SubjectPrefix returns the alert subject prefix of the category.
func (c Category) SubjectPrefix() string {
	switch c {
	case CategorySync:
		return constants.SyncSubjectPrefix
	case CategoryDemux:
		return constants.DemuxSubjectPrefix
	case CategoryRecompress:
		return constants.RecompressSubjectPrefix
	case CategoryQC:
		return constants.QCSubjectPrefix
	case CategoryHiSeq:
		return constants.HiSeqSubjectPrefix
	case CategorySpaceEstimate:
		return constants.SpaceSubjectPrefix
	default:
		return constants.SubjectPrefix
	}
}

// LastErrFile returns the name of the category's last-error record.
func (c Category) LastErrFile() string {
	return string(c) + constants.LastErrSuffix
}

// FailureNotifier sends operator alerts, suppressing an alert identical to
// the previous one of the same category.
type FailureNotifier struct {
	sender Sender
	dir    string
	expiry time.Duration
	logger *logging.Logger
	now    func() time.Time
}

// NewFailureNotifier stores last-error records in dir. A positive expiry lets
// an identical error alert again once its record is older than expiry.
func NewFailureNotifier(sender Sender, dir string, expiry time.Duration, logger *logging.Logger) *FailureNotifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FailureNotifier{
		sender: sender,
		dir:    dir,
		expiry: expiry,
		logger: logger,
		now:    time.Now,
	}
}

// Report logs a failure and alerts the operator unless the same failure was
// the last one reported for category.
func (n *FailureNotifier) Report(ctx context.Context, category Category, short, full string) {
	n.ReportWithAttachment(ctx, category, short, full, "")
}

// ReportWithAttachment is Report with a file attached to the alert.
func (n *FailureNotifier) ReportWithAttachment(ctx context.Context, category Category, short, full, attachment string) {
	if strings.TrimSpace(short) == "" {
		short = NoDescription
	}
	signature := Signature(short, full)
	n.logger.Error().Str("category", string(category)).Msg(signature)

	record := filepath.Join(n.dir, category.LastErrFile())
	if n.isRepeated(record, signature) {
		n.logger.Debug().Str("category", string(category)).Msg("Same error as last time, alert not sent")
		return
	}

	err := n.sender.Send(ctx, Message{
		Subject:    category.SubjectPrefix() + short,
		Body:       full,
		Error:      true,
		Attachment: attachment,
	})
	if err != nil {
		// Not recorded, so the next report of this error retries the delivery.
		n.logger.Error().Err(err).Str("category", string(category)).Msg("Failed to send alert")
		return
	}

	if err := os.WriteFile(record, []byte(signature), 0644); err != nil {
		n.logger.Error().Err(err).Str("file", record).Msg("Failed to write last error record")
	}
}

func (n *FailureNotifier) isRepeated(record, signature string) bool {
	info, err := os.Stat(record)
	if err != nil {
		return false
	}
	content, err := os.ReadFile(record)
	if err != nil || string(content) != signature {
		return false
	}
	if n.expiry > 0 && n.now().Sub(info.ModTime()) >= n.expiry {
		return false
	}
	return true
}

// Send delivers a non-error notification.
func (n *FailureNotifier) Send(ctx context.Context, subject, body string) {
	n.SendWithAttachment(ctx, subject, body, "")
}

// SendWithAttachment delivers a non-error notification with a file attached.
func (n *FailureNotifier) SendWithAttachment(ctx context.Context, subject, body, attachment string) {
	err := n.sender.Send(ctx, Message{Subject: subject, Body: body, Attachment: attachment})
	if err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to send notification")
	}
}

// NoDescription stands for a failure reported without any text.
const NoDescription = "Error without description"

// Signature is the single-line text identifying a failure.
func Signature(short, full string) string {
	if sig := strings.Join(strings.Fields(short+" "+full), " "); sig != "" {
		return sig
	}
	return NoDescription
}
