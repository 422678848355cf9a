package vector

import (
	"context"
	"errors"
)

// probeDocumentID is a document ID that never exists; the capability probe only
// cares whether the store accepts the filter.
const probeDocumentID = "__docrag_filter_probe__"

// pointFinder locates the point IDs that belong to one document.
type pointFinder interface {
	name() string
	find(ctx context.Context, a *Adapter, documentID string) ([]string, error)
}

// filterFinder asks the store to filter on document_id.
type filterFinder struct{}

func (filterFinder) name() string { return "filter" }

func (filterFinder) find(ctx context.Context, a *Adapter, documentID string) ([]string, error) {
	var ids []string
	err := a.scrollAll(ctx, documentID, func(p PointRecord) {
		if p.Payload.DocumentID == documentID {
			ids = append(ids, p.ID)
		}
	})
	return ids, err
}

// scanFinder reads every point and filters on the client.
type scanFinder struct{}

func (scanFinder) name() string { return "scan" }

func (scanFinder) find(ctx context.Context, a *Adapter, documentID string) ([]string, error) {
	var ids []string
	err := a.scrollAll(ctx, "", func(p PointRecord) {
		if p.Payload.DocumentID == documentID {
			ids = append(ids, p.ID)
		}
	})
	return ids, err
}

// probeFinder picks the finder for the store by issuing a filtered scroll of one point.
// Errors other than ErrFilterUnsupported keep the filter strategy; findPoints still
// falls back to a scan if the store later rejects the filter.
func (a *Adapter) probeFinder(ctx context.Context) pointFinder {
	err := a.call(ctx, "probe", a.retry, func(ctx context.Context) error {
		_, err := a.backend.Scroll(ctx, a.spec.Name, ScrollRequest{Limit: 1, DocumentID: probeDocumentID})
		return err
	})
	if errors.Is(err, ErrFilterUnsupported) {
		return scanFinder{}
	}
	return filterFinder{}
}

func (a *Adapter) findPoints(ctx context.Context, documentID string) ([]string, error) {
	f := a.currentFinder()
	ids, err := f.find(ctx, a, documentID)
	if errors.Is(err, ErrFilterUnsupported) {
		a.logger.Info("vector store rejected payload filter, switching to scan")
		a.setFinder(scanFinder{})
		return scanFinder{}.find(ctx, a, documentID)
	}
	return ids, err
}
