package models

// DocumentHandle identifies a document and its size.
// It is created once per job from the document-info lookup.
type DocumentHandle struct {
	DocumentID string `json:"document_id"`
	PageCount  int    `json:"page_count"`
}

// KeyMaterial is the per-document secret used for token signing and vector decryption.
// It must never be logged.
type KeyMaterial struct {
	CryptoKey   string `json:"-"`
	CryptoKeyID string `json:"-"`
}

// PageArtifact is a finished page bitmap persisted on disk
type PageArtifact struct {
	Page    int    `json:"page"`
	Path    string `json:"path"`
	Skipped bool   `json:"skipped"`
}
