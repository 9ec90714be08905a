// Package assembler binds finished page bitmaps into a single PDF, one page
// per image, each page sized to its image.
package assembler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"znum/pkg/logger"
	"znum/pkg/models"
)

// ErrNoPages is returned when there is nothing to assemble
var ErrNoPages = errors.New("no pages to assemble")

var disableConfigDir sync.Once

// Assemble writes artifacts to dst as a PDF in page order, replacing any
// existing file at dst.
func Assemble(artifacts []models.PageArtifact, dst string) error {
	return AssembleWithLogger(artifacts, dst, logger.GetLogger())
}

// AssembleWithLogger is Assemble with an explicit logger
func AssembleWithLogger(artifacts []models.PageArtifact, dst string, log logger.Logger) error {
	if len(artifacts) == 0 {
		return ErrNoPages
	}

	// pdfcpu would otherwise create a config directory under the user's home
	disableConfigDir.Do(api.DisableConfigDir)

	ordered := make([]models.PageArtifact, len(artifacts))
	copy(ordered, artifacts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Page < ordered[j].Page })

	paths := make([]string, 0, len(ordered))
	for _, a := range ordered {
		if _, err := os.Stat(a.Path); err != nil {
			return fmt.Errorf("page %d: %w", a.Page, err)
		}
		paths = append(paths, a.Path)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	// ImportImagesFile appends to an existing file
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}

	imp, err := api.Import("pos:full", types.POINTS)
	if err != nil {
		return fmt.Errorf("import settings: %w", err)
	}

	if err := api.ImportImagesFile(paths, dst, imp, nil); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("failed to assemble pdf: %w", err)
	}

	log.InfoWithFields("Document assembled", map[string]interface{}{
		"output": dst,
		"pages":  len(paths),
	})
	return nil
}
