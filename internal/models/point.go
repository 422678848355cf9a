package models

// Payload is the metadata stored next to every vector.
type Payload struct {
	DocumentID   string `json:"document_id"`
	DocumentPath string `json:"document_path"`
	DocumentName string `json:"document_name"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
}

// IndexedPoint is a unit stored in a vector collection.
type IndexedPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a raw nearest-neighbour hit returned by a vector store.
type ScoredPoint struct {
	ID      string
	Payload Payload
	Score   float64
}
