package mailflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/storage"
)

// storeAttachments converts message attachments into job attachments.
// With storage configured the bytes are uploaded and only keys are kept.
func (s *Service) storeAttachments(ctx context.Context, jobID string, in []mailer.Attachment) ([]emailjob.Attachment, error) {
	out := make([]emailjob.Attachment, 0, len(in))
	for i, a := range in {
		contentType := a.ContentType
		if contentType == "" {
			contentType = storage.DetectContentType(a.Filename, a.Content)
		}
		att := emailjob.Attachment{
			Filename:    a.Filename,
			ContentType: contentType,
			ContentID:   a.ContentID,
			Size:        int64(len(a.Content)),
		}

		if s.storage == nil {
			att.Content = a.Content
			out = append(out, att)
			continue
		}

		att.StorageKey = storage.AttachmentKey(s.storagePrefix, jobID, i, a.Filename)
		if err := s.storage.Put(ctx, att.StorageKey, contentType, a.Content); err != nil {
			s.deleteAttachments(ctx, out)
			return nil, errors.Join(ErrAttachmentStorage, fmt.Errorf("upload %s: %w", a.Filename, err))
		}
		out = append(out, att)
	}
	return out, nil
}

// loadAttachments fills Content for offloaded attachments in place.
func (s *Service) loadAttachments(ctx context.Context, job *emailjob.Job) error {
	for i := range job.Attachments {
		a := &job.Attachments[i]
		if a.StorageKey == "" || len(a.Content) > 0 {
			continue
		}
		if s.storage == nil {
			return fmt.Errorf("%w: %s is offloaded but no storage is configured", ErrAttachmentStorage, a.Filename)
		}
		data, err := s.storage.Get(ctx, a.StorageKey)
		if err != nil {
			return errors.Join(ErrAttachmentStorage, fmt.Errorf("load %s: %w", a.Filename, err))
		}
		a.Content = data
	}
	return nil
}

// deleteAttachments removes offloaded bytes once no dispatch can need them.
// Failures are logged only.
func (s *Service) deleteAttachments(ctx context.Context, atts []emailjob.Attachment) {
	if s.storage == nil {
		return
	}
	for _, a := range atts {
		if a.StorageKey == "" {
			continue
		}
		if err := s.storage.Delete(ctx, a.StorageKey); err != nil {
			s.log.WarnContext(ctx, "attachment cleanup failed",
				slog.String("key", a.StorageKey),
				slog.String("error", err.Error()),
			)
		}
	}
}
