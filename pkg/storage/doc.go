// Package storage persists page artifacts on disk.
//
// Every page of a document lives at a path derived from the document id and
// page number, <root>/<documentID>/page_<n>.png. The presence of that file is
// the only record that a page was retrieved, so a later run can skip it.
//
// Writes go to a temporary file in the same directory and are renamed into
// place, so an interrupted run never leaves a truncated page behind.
//
//	store, err := storage.NewManager(cfg.Download.WorkDir)
//	path := store.PagePath("12345", 7)
//	if !store.Exists(path) {
//	    err = store.Write(path, pngBytes)
//	}
package storage
