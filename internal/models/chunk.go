package models

// Document is a piece of extracted text waiting to be chunked and indexed.
type Document struct {
	Text     string
	Filename string
}

// Chunk represents a stored chunk; ChunkID is its position in the store.
type Chunk struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	ChunkID  int    `json:"chunk_id"`
}

// RetrievalResult is a chunk matched by a query together with its squared L2 distance.
type RetrievalResult struct {
	Chunk    Chunk
	Distance float32
}

// Source is a cited chunk in a query response.
type Source struct {
	Filename        string  `json:"filename"`
	TextSnippet     string  `json:"text_snippet"`
	SimilarityScore float64 `json:"similarity_score"`
}

type QueryResponse struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	NumSources int      `json:"num_sources"`
	Degraded   bool     `json:"degraded,omitempty"`
}

type Stats struct {
	TotalChunks    int `json:"total_chunks"`
	TotalDocuments int `json:"total_documents"`
}

// Snapshot is the full persisted state: Vectors[i] belongs to Chunks[i].
type Snapshot struct {
	Dimension int
	Vectors   [][]float32
	Chunks    []Chunk
}

// FileError records a file skipped during ingestion.
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type IngestReport struct {
	FilesProcessed int         `json:"files_processed"`
	FilesFailed    []FileError `json:"files_failed,omitempty"`
	ChunksAdded    int         `json:"chunks_added"`
	TotalChunks    int         `json:"total_chunks"`
}
