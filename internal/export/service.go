package export

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service renders share snapshots to PDF.
type Service struct {
	archive *Archive
}

// NewService creates an export service. archive may be nil when object
// storage is not configured.
func NewService(archive *Archive) *Service {
	return &Service{archive: archive}
}

// ExportSnapshot renders the shared sections of a profile snapshot to PDF.
// When an archive is configured the PDF is also stored there, best effort.
func (s *Service) ExportSnapshot(ctx context.Context, req Request) (*Result, error) {
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = time.Now()
	}

	data := BuildTemplateData(req)
	html, err := RenderProfileHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result, err := exportPDF(html, req.CustomerName+" profile")
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := fmt.Sprintf("snapshots/%s/%s", req.GeneratedAt.Format("2006/01"), result.Filename)
		if err := s.archive.Store(ctx, key, result); err != nil {
			log.Printf("export: archive %s: %v", key, err)
		}
	}

	return result, nil
}
