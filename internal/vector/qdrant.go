package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/resilience"
)

// Payload keys as stored in Qdrant.
const (
	keyDocumentID   = "document_id"
	keyDocumentPath = "document_path"
	keyDocumentName = "document_name"
	keyChunkIndex   = "chunk_index"
	keyText         = "text"
)

// QdrantBackend is a Backend for a Qdrant server reached over gRPC.
type QdrantBackend struct {
	client *qdrant.Client
}

// NewQdrantBackend connects to Qdrant. The connection is established lazily by gRPC,
// so an unreachable server surfaces on the first call.
func NewQdrantBackend(cfg config.QdrantConfig) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantBackend{client: client}, nil
}

// DescribeCollection implements Backend.
func (q *QdrantBackend) DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, classifyQdrant(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, classifyQdrant(err)
	}
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, classifyQdrant(err)
	}
	dims := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return &CollectionInfo{Name: name, Dimensions: int(dims), Points: int(count)}, nil
}

// CreateCollection implements Backend. It also creates a keyword index on
// document_id so per-document filters stay fast.
func (q *QdrantBackend) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classifyQdrant(err)
	}
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: spec.Name,
		FieldName:      keyDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	return classifyQdrant(err)
}

// Upsert implements Backend and waits until the points are persisted.
func (q *QdrantBackend) Upsert(ctx context.Context, collection string, points []*models.IndexedPoint) error {
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      toPointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				keyDocumentID:   p.Payload.DocumentID,
				keyDocumentPath: p.Payload.DocumentPath,
				keyDocumentName: p.Payload.DocumentName,
				keyChunkIndex:   int64(p.Payload.ChunkIndex),
				keyText:         p.Payload.Text,
			}),
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	return classifyQdrant(err)
}

// Scroll implements Backend.
func (q *QdrantBackend) Scroll(ctx context.Context, collection string, req ScrollRequest) (*ScrollPage, error) {
	in := &qdrant.ScrollPoints{
		CollectionName: collection,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.Limit > 0 {
		in.Limit = qdrant.PtrOf(uint32(req.Limit))
	}
	if req.Offset != "" {
		in.Offset = toPointID(req.Offset)
	}
	if req.DocumentID != "" {
		in.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(keyDocumentID, req.DocumentID)},
		}
	}
	resp, err := q.client.GetPointsClient().Scroll(ctx, in)
	if err != nil {
		return nil, classifyQdrant(err)
	}
	page := &ScrollPage{Points: make([]PointRecord, 0, len(resp.GetResult()))}
	for _, p := range resp.GetResult() {
		page.Points = append(page.Points, PointRecord{
			ID:      fromPointID(p.GetId()),
			Payload: payloadFromValues(p.GetPayload()),
		})
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.NextOffset = fromPointID(next)
	}
	return page, nil
}

// Delete implements Backend.
func (q *QdrantBackend) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = toPointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return classifyQdrant(err)
}

// Query implements Backend.
func (q *QdrantBackend) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*models.ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyQdrant(err)
	}
	hits := make([]*models.ScoredPoint, len(points))
	for i, p := range points {
		hits[i] = &models.ScoredPoint{
			ID:      fromPointID(p.GetId()),
			Payload: payloadFromValues(p.GetPayload()),
			Score:   float64(p.GetScore()),
		}
	}
	return hits, nil
}

// Close closes the gRPC connection.
func (q *QdrantBackend) Close() error {
	return q.client.Close()
}

// toPointID maps our string IDs to Qdrant IDs. Numeric strings become numeric IDs
// so cursors of foreign points round-trip.
func toPointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewID(id)
}

func fromPointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadFromValues(m map[string]*qdrant.Value) models.Payload {
	return models.Payload{
		DocumentID:   m[keyDocumentID].GetStringValue(),
		DocumentPath: m[keyDocumentPath].GetStringValue(),
		DocumentName: m[keyDocumentName].GetStringValue(),
		ChunkIndex:   int(m[keyChunkIndex].GetIntegerValue()),
		Text:         m[keyText].GetStringValue(),
	}
}

// classifyQdrant maps gRPC status codes onto the Backend sentinels and marks
// errors that a retry cannot fix as permanent.
func classifyQdrant(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := strings.ToLower(st.Message())
	switch st.Code() {
	case codes.NotFound:
		if strings.Contains(msg, "collection") {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, st.Message())
		}
		return resilience.Permanent(err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ErrCollectionExists, st.Message())
	case codes.InvalidArgument:
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrCollectionExists, st.Message())
		}
		if strings.Contains(msg, "dimension") {
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, st.Message())
		}
		return resilience.Permanent(err)
	case codes.Unauthenticated, codes.PermissionDenied, codes.FailedPrecondition,
		codes.Unimplemented, codes.OutOfRange:
		return resilience.Permanent(err)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return err
	}
}
