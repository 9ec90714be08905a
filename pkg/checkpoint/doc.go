// Package checkpoint records how the last run of a document ended.
//
// Page images on disk are what make a run resumable; the checkpoint only
// remembers where and why the previous run stopped so the next run can say
// so. A checkpoint is written when a run stops early and deleted when a
// document completes. Files live next to the page images as
// <work_dir>/<document id>.checkpoint.json and are replaced atomically.
package checkpoint
