package models

// ScoredChunk is a search hit mapped back to its document chunk.
type ScoredChunk struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	DocumentPath string  `json:"document_path"`
	ChunkIndex   int     `json:"chunk_index"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// NewScoredChunk maps a store hit to a ScoredChunk.
func NewScoredChunk(p *ScoredPoint) *ScoredChunk {
	return &ScoredChunk{
		DocumentID:   p.Payload.DocumentID,
		DocumentName: p.Payload.DocumentName,
		DocumentPath: p.Payload.DocumentPath,
		ChunkIndex:   p.Payload.ChunkIndex,
		Text:         p.Payload.Text,
		Score:        p.Score,
	}
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string         `json:"query"`
	Results   []*ScoredChunk `json:"results"`
	Answer    string         `json:"answer"`
	QueryTime int64          `json:"query_time_ms"`
}
